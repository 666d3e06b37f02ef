// Package memory keeps period mirrors in process, for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"smartspend/internal/core"
	ports "smartspend/internal/sheets"
)

type Store struct {
	mu      sync.Mutex
	tabs    map[string][][]string
	exports int
}

var _ ports.PeriodExporter = (*Store)(nil)

func New() *Store {
	return &Store{tabs: make(map[string][][]string)}
}

// ExportPeriod replaces the tab's rows and returns a synthetic range reference.
func (s *Store) ExportPeriod(ctx context.Context, owner string, period core.PeriodKey, entries []core.Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rows := ports.Rows(entries)
	tab := ports.TabName(owner, period)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs[tab] = rows
	s.exports++
	return fmt.Sprintf("mem:%s!A1:E%d", tab, len(rows)), nil
}

// Rows returns a copy of the tab's rows, header included.
func (s *Store) Rows(tab string) ([][]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.tabs[tab]
	if !ok {
		return nil, false
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out, true
}

func (s *Store) Tabs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tabs))
	for tab := range s.tabs {
		out = append(out, tab)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Exports() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exports
}
