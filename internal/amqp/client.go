package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Routing keys for budget lifecycle events. Both land in the same queue; the
// consumer dispatches on the key.
const (
	RouteBudgetSaved   = "budget.saved"
	RouteBudgetDeleted = "budget.deleted"
)

type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	for _, key := range []string{RouteBudgetSaved, RouteBudgetDeleted} {
		if err := c.channel.QueueBind(c.queueName, key, c.exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue for %s: %w", key, err)
		}
	}

	return nil
}

// PublishBudgetSaved publishes a budget saved event.
func (c *Client) PublishBudgetSaved(ctx context.Context, budgetID, ownerID int64) error {
	msg := NewBudgetSavedMessage(budgetID, ownerID)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, RouteBudgetSaved, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published budget saved event",
		"budget_id", budgetID,
		"owner_id", ownerID,
		"exchange", c.exchangeName)
	return nil
}

// PublishBudgetDeleted publishes a budget deleted event.
func (c *Client) PublishBudgetDeleted(ctx context.Context, budgetID, ownerID int64) error {
	msg := NewBudgetDeletedMessage(budgetID, ownerID)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, RouteBudgetDeleted, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published budget deleted event",
		"budget_id", budgetID,
		"owner_id", ownerID,
		"exchange", c.exchangeName)
	return nil
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// ConsumeEvents consumes budget events until ctx is cancelled, dispatching on
// routing key. A handler error nacks the delivery back onto the queue; an
// unparseable body is dropped.
func (c *Client) ConsumeEvents(
	ctx context.Context,
	onSaved func(context.Context, *BudgetSavedMessage) error,
	onDeleted func(context.Context, *BudgetDeletedMessage) error,
) error {
	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming budget events", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping event consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			switch err := c.dispatch(ctx, delivery, onSaved, onDeleted); {
			case errors.Is(err, errDropMessage):
				delivery.Nack(false, false) // reject and don't requeue
			case err != nil:
				slog.ErrorContext(ctx, "Failed to handle event",
					"error", err,
					"routing_key", delivery.RoutingKey)
				delivery.Nack(false, true) // reject and requeue
			default:
				delivery.Ack(false)
			}
		}
	}
}

// errDropMessage marks deliveries that can never be processed (bad payload,
// unknown routing key) so the loop discards instead of requeueing them.
var errDropMessage = errors.New("drop message")

func (c *Client) dispatch(
	ctx context.Context,
	delivery amqp091.Delivery,
	onSaved func(context.Context, *BudgetSavedMessage) error,
	onDeleted func(context.Context, *BudgetDeletedMessage) error,
) error {
	switch delivery.RoutingKey {
	case RouteBudgetSaved:
		msg, err := BudgetSavedMessageFromJSON(delivery.Body)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to unmarshal saved event", "error", err)
			return errDropMessage
		}
		if onSaved == nil {
			return nil
		}
		return onSaved(ctx, msg)
	case RouteBudgetDeleted:
		msg, err := BudgetDeletedMessageFromJSON(delivery.Body)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to unmarshal deleted event", "error", err)
			return errDropMessage
		}
		if onDeleted == nil {
			return nil
		}
		return onDeleted(ctx, msg)
	default:
		slog.WarnContext(ctx, "Unknown routing key", "routing_key", delivery.RoutingKey)
		return errDropMessage
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
