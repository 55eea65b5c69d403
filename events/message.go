package events

import (
	"encoding/json"
	"time"

	"github.com/pocketfolio/billing-engine/billing"
)

// Message is the JSON body published for every billing event. Amounts are
// decimal strings so consumers never see float rounding.
type Message struct {
	Type           string    `json:"type"`
	AccountID      string    `json:"account_id,omitempty"`
	StatementID    string    `json:"statement_id,omitempty"`
	RecurrenceID   string    `json:"recurrence_id,omitempty"`
	TransactionRef string    `json:"transaction_ref,omitempty"`
	Amount         string    `json:"amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	Date           string    `json:"date,omitempty"`
	Period         string    `json:"period,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewMessage converts a domain event into its wire form.
func NewMessage(e billing.Event) *Message {
	m := &Message{
		Type:           string(e.Type),
		AccountID:      string(e.AccountID),
		StatementID:    string(e.StatementID),
		RecurrenceID:   string(e.RecurrenceID),
		TransactionRef: string(e.TransactionRef),
		Period:         e.Period,
		OccurredAt:     e.OccurredAt,
	}
	if e.Amount.Currency != "" {
		m.Amount = e.Amount.Value.String()
		m.Currency = e.Amount.Currency
	}
	if !e.Date.IsZero() {
		m.Date = e.Date.String()
	}
	return m
}

// ToJSON converts the message to JSON bytes.
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MessageFromJSON decodes a published body.
func MessageFromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
