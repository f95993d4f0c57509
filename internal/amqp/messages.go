package amqp

import (
	"encoding/json"
	"time"
)

// BudgetSavedMessage tells the export worker that a budget was created or
// overwritten. It carries only identifiers; the worker fetches the current
// snapshot from storage so a stale message never exports stale data.
type BudgetSavedMessage struct {
	BudgetID  int64     `json:"budget_id"`
	OwnerID   int64     `json:"owner_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBudgetSavedMessage(budgetID, ownerID int64) *BudgetSavedMessage {
	return &BudgetSavedMessage{
		BudgetID:  budgetID,
		OwnerID:   ownerID,
		Timestamp: time.Now(),
	}
}

func (m *BudgetSavedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func BudgetSavedMessageFromJSON(data []byte) (*BudgetSavedMessage, error) {
	var msg BudgetSavedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// BudgetDeletedMessage tells downstream consumers that a budget is gone.
type BudgetDeletedMessage struct {
	BudgetID  int64     `json:"budget_id"`
	OwnerID   int64     `json:"owner_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBudgetDeletedMessage(budgetID, ownerID int64) *BudgetDeletedMessage {
	return &BudgetDeletedMessage{
		BudgetID:  budgetID,
		OwnerID:   ownerID,
		Timestamp: time.Now(),
	}
}

func (m *BudgetDeletedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func BudgetDeletedMessageFromJSON(data []byte) (*BudgetDeletedMessage, error) {
	var msg BudgetDeletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
