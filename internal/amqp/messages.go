package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

type DealEventType string

const (
	DealCreated DealEventType = "deal.created"
	DealUpdated DealEventType = "deal.updated"
	DealDeleted DealEventType = "deal.deleted"
)

// DealEventMessage announces a change to one deal. It carries only ids; the
// consumer reads the current row from the database.
type DealEventMessage struct {
	Type      DealEventType `json:"type"`
	DealID    string        `json:"deal_id"`
	UserID    string        `json:"user_id"`
	Timestamp time.Time     `json:"timestamp"`
}

func NewDealEventMessage(t DealEventType, dealID, userID string) *DealEventMessage {
	return &DealEventMessage{
		Type:      t,
		DealID:    dealID,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *DealEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// DealEventMessageFromJSON decodes and validates a message body.
func DealEventMessageFromJSON(data []byte) (*DealEventMessage, error) {
	var msg DealEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Type {
	case DealCreated, DealUpdated, DealDeleted:
	default:
		return nil, fmt.Errorf("unknown event type %q", msg.Type)
	}
	if msg.DealID == "" {
		return nil, fmt.Errorf("missing deal_id")
	}
	return &msg, nil
}
