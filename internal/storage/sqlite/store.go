// Package sqlite implements storage.Store on a local SQLite file.
//
// Amounts are stored as decimal text and timestamps as fixed-width UTC text so
// that string ordering in SQL matches chronological ordering.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"smartspend/internal/core"
	"smartspend/internal/storage"

	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

var _ storage.Store = (*Store)(nil)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database directory if needed, applies migrations and
// returns a ready store.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("SQLite store ready", "path", dbPath)
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return core.Persistence("ping", err)
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (core.Entry, error) {
	var (
		e                    core.Entry
		amount, date, typ    string
		createdAt, updatedAt string
	)
	if err := row.Scan(&e.ID, &e.OwnerID, &e.Title, &amount, &date, &e.Category, &typ, &createdAt, &updatedAt); err != nil {
		return core.Entry{}, err
	}
	var err error
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Entry{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if e.Date, err = parseTime(date); err != nil {
		return core.Entry{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Entry{}, fmt.Errorf("parse created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return core.Entry{}, fmt.Errorf("parse updated_at: %w", err)
	}
	e.Type = core.EntryType(typ)
	return e, nil
}

const entryColumns = `id, owner_id, title, amount, date, category, type, created_at, updated_at`

func (s *Store) ListEntries(ctx context.Context, owner string) ([]core.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE owner_id = ?
		 ORDER BY date DESC, created_at DESC, id DESC`, owner)
	if err != nil {
		return nil, core.Persistence("list entries", err)
	}
	defer rows.Close()

	out := make([]core.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, core.Persistence("scan entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Persistence("list entries", err)
	}
	return out, nil
}

func (s *Store) GetEntry(ctx context.Context, owner, id string) (core.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ? AND owner_id = ?`, id, owner)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Entry{}, core.Persistence("get entry", err)
	}
	return e, nil
}

func (s *Store) AddEntry(ctx context.Context, e core.Entry) (string, error) {
	now := s.now()
	e.ID = uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, e.Title, e.Amount.String(), formatTime(e.Date),
		core.NormalizeCategory(e.Category), string(e.Type), formatTime(now), formatTime(now))
	if err != nil {
		return "", core.Persistence("add entry", err)
	}
	slog.DebugContext(ctx, "Entry saved to SQLite", "id", e.ID, "owner_id", e.OwnerID, "amount", e.Amount.String())
	return e.ID, nil
}

func (s *Store) UpdateEntry(ctx context.Context, owner, id string, f core.EntryFields) (before, after core.Entry, err error) {
	f = f.Normalize()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Entry{}, core.Entry{}, core.Persistence("begin update", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `SELECT ` + entryColumns + ` FROM entries WHERE id = ? AND owner_id = ?`
	before, err = scanEntry(tx.QueryRowContext(ctx, query, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, core.Entry{}, fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Entry{}, core.Entry{}, core.Persistence("get entry", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE entries SET title = ?, amount = ?, date = ?, category = ?, type = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		f.Title, f.Amount.String(), formatTime(f.Date), f.Category, string(f.Type), formatTime(s.now()), id, owner)
	if err != nil {
		return core.Entry{}, core.Entry{}, core.Persistence("update entry", err)
	}
	after, err = scanEntry(tx.QueryRowContext(ctx, query, id, owner))
	if err != nil {
		return core.Entry{}, core.Entry{}, core.Persistence("reload entry", err)
	}
	if err = tx.Commit(); err != nil {
		return core.Entry{}, core.Entry{}, core.Persistence("commit update", err)
	}
	return before, after, nil
}

func (s *Store) DeleteEntry(ctx context.Context, owner, id string) (core.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`DELETE FROM entries WHERE id = ? AND owner_id = ? RETURNING `+entryColumns, id, owner)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, fmt.Errorf("entry %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Entry{}, core.Persistence("delete entry", err)
	}
	return e, nil
}

func (s *Store) GetBudget(ctx context.Context, owner string, period core.PeriodKey) (*core.Budget, error) {
	var (
		b                          core.Budget
		p, monthly, spent, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, period, monthly_budget, current_spending, updated_at
		 FROM budgets WHERE id = ?`, core.BudgetID(owner, period)).
		Scan(&b.ID, &b.OwnerID, &p, &monthly, &spent, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, core.Persistence("get budget", err)
	}
	b.Period = core.PeriodKey(p)
	if b.MonthlyBudget, err = decimal.NewFromString(monthly); err != nil {
		return nil, core.Persistence("parse monthly budget", err)
	}
	if b.CurrentSpending, err = decimal.NewFromString(spent); err != nil {
		return nil, core.Persistence("parse current spending", err)
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, core.Persistence("parse budget updated_at", err)
	}
	return &b, nil
}

func (s *Store) SetBudget(ctx context.Context, owner string, period core.PeriodKey, monthly, spending decimal.Decimal) (core.Budget, error) {
	b := core.Budget{
		ID:              core.BudgetID(owner, period),
		OwnerID:         owner,
		Period:          period,
		MonthlyBudget:   monthly,
		CurrentSpending: spending,
		UpdatedAt:       s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budgets (id, owner_id, period, monthly_budget, current_spending, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   monthly_budget = excluded.monthly_budget,
		   current_spending = excluded.current_spending,
		   updated_at = excluded.updated_at`,
		b.ID, owner, string(period), monthly.String(), spending.String(), formatTime(b.UpdatedAt))
	if err != nil {
		return core.Budget{}, core.Persistence("set budget", err)
	}
	return b, nil
}

func (s *Store) UpdateSpending(ctx context.Context, owner string, period core.PeriodKey, spending decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE budgets SET current_spending = ?, updated_at = ? WHERE id = ?`,
		spending.String(), formatTime(s.now()), core.BudgetID(owner, period))
	if err != nil {
		return core.Persistence("update spending", err)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, msg core.ChatMessage) (string, error) {
	msg.ID = uuid.NewString()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, owner_id, text, from_user, timestamp) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.OwnerID, msg.Text, msg.FromUser, formatTime(msg.Timestamp))
	if err != nil {
		return "", core.Persistence("append message", err)
	}
	return msg.ID, nil
}

func (s *Store) ListMessages(ctx context.Context, owner string) ([]core.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, text, from_user, timestamp FROM chat_messages
		 WHERE owner_id = ? ORDER BY timestamp ASC, rowid ASC`, owner)
	if err != nil {
		return nil, core.Persistence("list messages", err)
	}
	defer rows.Close()

	out := make([]core.ChatMessage, 0)
	for rows.Next() {
		var (
			m  core.ChatMessage
			ts string
		)
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Text, &m.FromUser, &ts); err != nil {
			return nil, core.Persistence("scan message", err)
		}
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, core.Persistence("parse message timestamp", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Persistence("list messages", err)
	}
	return out, nil
}

func (s *Store) AdviceExceeded(ctx context.Context, owner string, period core.PeriodKey) (bool, error) {
	var exceeded bool
	err := s.db.QueryRowContext(ctx,
		`SELECT exceeded FROM advice_state WHERE owner_id = ? AND period = ?`, owner, string(period)).
		Scan(&exceeded)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, core.Persistence("get advice state", err)
	}
	return exceeded, nil
}

func (s *Store) SetAdviceExceeded(ctx context.Context, owner string, period core.PeriodKey, exceeded bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO advice_state (owner_id, period, exceeded, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner_id, period) DO UPDATE SET exceeded = excluded.exceeded, updated_at = excluded.updated_at`,
		owner, string(period), exceeded, formatTime(s.now()))
	if err != nil {
		return core.Persistence("set advice state", err)
	}
	return nil
}
