package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"smartspend/internal/advice"
	"smartspend/internal/core"
	"smartspend/internal/services"
)

// EventType tells the worker what to do with an envelope.
type EventType string

const (
	TypeAdviceRequested EventType = "advice.requested"
	TypePeriodChanged   EventType = "period.changed"
)

// Envelope is the only message on the queue. The worker reloads entries from
// the store, so it carries just the budget figures of the period.
type Envelope struct {
	Type            EventType       `json:"type"`
	OwnerID         string          `json:"owner_id"`
	Period          core.PeriodKey  `json:"period"`
	HasBudget       bool            `json:"has_budget"`
	MonthlyBudget   decimal.Decimal `json:"monthly_budget"`
	CurrentSpending decimal.Decimal `json:"current_spending"`
	Timestamp       time.Time       `json:"timestamp"`
}

func NewAdviceRequested(req advice.Request) *Envelope {
	ts := req.RequestedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Envelope{
		Type:            TypeAdviceRequested,
		OwnerID:         req.OwnerID,
		Period:          req.Period,
		HasBudget:       true,
		MonthlyBudget:   req.MonthlyBudget,
		CurrentSpending: req.CurrentSpending,
		Timestamp:       ts,
	}
}

func NewPeriodChanged(change services.PeriodChange) *Envelope {
	env := &Envelope{
		Type:      TypePeriodChanged,
		OwnerID:   change.OwnerID,
		Period:    change.Period,
		Timestamp: time.Now(),
	}
	if change.Budget != nil {
		env.HasBudget = true
		env.MonthlyBudget = change.Budget.MonthlyBudget
		env.CurrentSpending = change.Budget.CurrentSpending
	}
	return env
}

// AdviceRequest converts an advice.requested envelope back to a request.
func (e *Envelope) AdviceRequest() advice.Request {
	return advice.Request{
		OwnerID:         e.OwnerID,
		Period:          e.Period,
		MonthlyBudget:   e.MonthlyBudget,
		CurrentSpending: e.CurrentSpending,
		RequestedAt:     e.Timestamp,
	}
}

func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EnvelopeFromJSON decodes and checks an envelope. Unknown types and missing
// owners or periods are rejected so they can be dropped instead of retried.
func EnvelopeFromJSON(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case TypeAdviceRequested, TypePeriodChanged:
	default:
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}
	if env.OwnerID == "" {
		return nil, errors.New("envelope without owner")
	}
	if _, err := core.ParsePeriodKey(string(env.Period)); err != nil {
		return nil, fmt.Errorf("envelope period %q: %w", env.Period, err)
	}
	return &env, nil
}
