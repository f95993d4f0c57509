package amqp

import (
	"testing"
)

func TestBudgetSavedMessageRoundTrip(t *testing.T) {
	msg := NewBudgetSavedMessage(42, 7)
	if msg.Timestamp.IsZero() {
		t.Error("new message has zero timestamp")
	}

	data, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	decoded, err := BudgetSavedMessageFromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if decoded.BudgetID != 42 || decoded.OwnerID != 7 {
		t.Errorf("decoded = (%d, %d), want (42, 7)", decoded.BudgetID, decoded.OwnerID)
	}
	if !decoded.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("timestamp changed in transit: %v -> %v", msg.Timestamp, decoded.Timestamp)
	}
}

func TestBudgetDeletedMessageFromJSON_Invalid(t *testing.T) {
	if _, err := BudgetDeletedMessageFromJSON([]byte("not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
	if _, err := BudgetSavedMessageFromJSON([]byte(`{"budget_id": "nope"}`)); err == nil {
		t.Error("expected error for mistyped field")
	}
}
