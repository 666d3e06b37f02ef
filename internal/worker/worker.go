// Package worker handles the envelopes published by the ledger service.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"smartspend/internal/advice"
	"smartspend/internal/amqp"
	"smartspend/internal/core"
	"smartspend/internal/ledger"
	"smartspend/internal/sheets"
	"smartspend/internal/storage"
)

// Deliverer produces and records advice for a request.
type Deliverer interface {
	Deliver(ctx context.Context, req advice.Request) (core.ChatMessage, error)
}

// Worker turns advice.requested envelopes into chat advice and mirrors
// period.changed envelopes to the spreadsheet.
type Worker struct {
	advisor  Deliverer
	entries  storage.EntryStore
	exporter sheets.PeriodExporter
	loc      *time.Location
}

// New builds a worker. exporter may be nil, in which case period changes are
// acknowledged without mirroring.
func New(advisor Deliverer, entries storage.EntryStore, exporter sheets.PeriodExporter, loc *time.Location) *Worker {
	if loc == nil {
		loc = time.UTC
	}
	return &Worker{advisor: advisor, entries: entries, exporter: exporter, loc: loc}
}

// Handle is an amqp.Handler. A returned error requeues the envelope.
func (w *Worker) Handle(ctx context.Context, env *amqp.Envelope) error {
	switch env.Type {
	case amqp.TypeAdviceRequested:
		return w.handleAdvice(ctx, env)
	case amqp.TypePeriodChanged:
		return w.handlePeriod(ctx, env)
	default:
		slog.WarnContext(ctx, "Ignoring envelope of unknown type", "type", env.Type)
		return nil
	}
}

func (w *Worker) handleAdvice(ctx context.Context, env *amqp.Envelope) error {
	slog.InfoContext(ctx, "Processing advice request",
		"owner_id", env.OwnerID,
		"period", env.Period,
		"current_spending", env.CurrentSpending.String())

	if _, err := w.advisor.Deliver(ctx, env.AdviceRequest()); err != nil {
		return fmt.Errorf("deliver advice: %w", err)
	}
	return nil
}

func (w *Worker) handlePeriod(ctx context.Context, env *amqp.Envelope) error {
	if w.exporter == nil {
		slog.DebugContext(ctx, "No period exporter configured, skipping mirror",
			"owner_id", env.OwnerID,
			"period", env.Period)
		return nil
	}

	entries, err := w.entries.ListEntries(ctx, env.OwnerID)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	inPeriod := ledger.InPeriod(entries, env.Period, w.loc)

	ref, err := w.exporter.ExportPeriod(ctx, env.OwnerID, env.Period, inPeriod)
	if err != nil {
		return fmt.Errorf("export period: %w", err)
	}

	slog.InfoContext(ctx, "Mirrored period",
		"owner_id", env.OwnerID,
		"period", env.Period,
		"entries", len(inPeriod),
		"ref", ref)
	return nil
}
