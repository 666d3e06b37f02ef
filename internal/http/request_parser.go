package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"smartspend/internal/core"
	"smartspend/internal/ledger"
)

const (
	maxBodyBytes  = 64 << 10
	dateLayout    = "2006-01-02"
	maxWindowDays = 90
)

// RequestBodyParser reads a JSON or form-encoded body once and exposes its
// fields as trimmed strings.
type RequestBodyParser struct {
	body     []byte
	jsonData map[string]any
	formData url.Values
	parsed   bool
	err      error
}

// NewRequestBodyParser reads at most maxBodyBytes of r's body.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{}
	if r.Body != nil {
		p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if p.err == nil && len(p.body) > maxBodyBytes {
			p.err = fmt.Errorf("request body larger than %d bytes", maxBodyBytes)
		}
	}
	return p
}

// Parse decodes the body as JSON when it looks like an object, form data otherwise.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true
	if p.err != nil {
		return p.err
	}

	trimmed := bytes.TrimSpace(p.body)
	if len(trimmed) == 0 {
		p.formData = url.Values{}
		return nil
	}
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		p.jsonData = make(map[string]any)
		if err := dec.Decode(&p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}
	p.formData, p.err = url.ParseQuery(string(trimmed))
	return p.err
}

// Get returns the first non-empty value among keys.
func (p *RequestBodyParser) Get(keys ...string) string {
	for _, key := range keys {
		var v string
		if p.jsonData != nil {
			v = stringValue(p.jsonData[key])
		} else if p.formData != nil {
			v = p.formData.Get(key)
		}
		if v = sanitizeInput(v); v != "" {
			return v
		}
	}
	return ""
}

func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// sanitizeInput trims s and drops control characters other than tab and newlines.
func sanitizeInput(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s))
}

// ParseEntryFields builds entry fields from a body. A blank date means now and
// a blank type means expense.
func ParseEntryFields(p *RequestBodyParser, loc *time.Location, now time.Time) (core.EntryFields, error) {
	if err := p.Parse(); err != nil {
		return core.EntryFields{}, &core.ValidationError{Field: "body", Err: err}
	}

	amount, err := core.ParseAmount(p.Get("amount"))
	if err != nil {
		return core.EntryFields{}, &core.ValidationError{Field: "amount", Err: err}
	}
	date, err := ParseDate(p.Get("date"), loc, now)
	if err != nil {
		return core.EntryFields{}, err
	}
	entryType := core.EntryExpense
	if raw := p.Get("type"); raw != "" {
		if entryType, err = core.ParseEntryType(raw); err != nil {
			return core.EntryFields{}, err
		}
	}

	return core.EntryFields{
		Title:    p.Get("title"),
		Amount:   amount,
		Date:     date,
		Category: p.Get("category"),
		Type:     entryType,
	}, nil
}

// ParseDate accepts YYYY-MM-DD (midnight in loc) or RFC 3339.
func ParseDate(s string, loc *time.Location, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, &core.ValidationError{Field: "date", Err: core.ErrInvalidDate}
}

// ParsePeriod reads a YYYY-MM value, defaulting to the month of now in loc.
func ParsePeriod(s string, loc *time.Location, now time.Time) (core.PeriodKey, error) {
	if strings.TrimSpace(s) == "" {
		return core.PeriodOf(now, loc), nil
	}
	return core.ParsePeriodKey(s)
}

// ParseBudgetAmount reads a monthly budget.
func ParseBudgetAmount(s string) (decimal.Decimal, error) {
	amount, err := core.ParseAmount(s)
	if err != nil {
		return decimal.Zero, &core.ValidationError{Field: "monthly_budget", Err: core.ErrInvalidBudget}
	}
	return amount, nil
}

// ParseWindow reads the daily window length, 1 to maxWindowDays.
func ParseWindow(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ledger.DefaultWindowDays, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > maxWindowDays {
		return 0, &core.ValidationError{Field: "window", Err: fmt.Errorf("must be between 1 and %d", maxWindowDays)}
	}
	return n, nil
}
