package http

import (
	"net/http"
	"strconv"

	applog "smartspend/internal/log"
	"smartspend/internal/session"
)

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Ledger.Entries(r.Context())
	s.read(w, r, applog.OpRead, toEntryDTOs(entries, s.loc), err)
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		s.fail(w, r, applog.OpAddEntry, err)
		return
	}
	fields, err := ParseEntryFields(NewRequestBodyParser(r), s.loc, s.now())
	if err != nil {
		s.fail(w, r, applog.OpAddEntry, err)
		return
	}

	entry, err := s.deps.Ledger.AddEntry(r.Context(), fields)
	s.invalidate(owner)
	s.mutated(w, r, applog.OpAddEntry, http.StatusCreated, toEntryDTO(entry, s.loc), err)
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		s.fail(w, r, applog.OpUpdateEntry, err)
		return
	}
	fields, err := ParseEntryFields(NewRequestBodyParser(r), s.loc, s.now())
	if err != nil {
		s.fail(w, r, applog.OpUpdateEntry, err)
		return
	}

	entry, err := s.deps.Ledger.UpdateEntry(r.Context(), r.PathValue("id"), fields)
	s.invalidate(owner)
	s.mutated(w, r, applog.OpUpdateEntry, http.StatusOK, toEntryDTO(entry, s.loc), err)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		s.fail(w, r, applog.OpDeleteEntry, err)
		return
	}
	id := r.PathValue("id")
	err = s.deps.Ledger.DeleteEntry(r.Context(), id)
	s.invalidate(owner)
	s.mutated(w, r, applog.OpDeleteEntry, http.StatusOK, map[string]string{"id": id}, err)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	period, err := ParsePeriod(r.URL.Query().Get("period"), s.loc, s.now())
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	budget, err := s.deps.Ledger.Budget(r.Context(), period)
	s.read(w, r, applog.OpRead, toBudgetDTO(budget), err)
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		s.fail(w, r, applog.OpSetBudget, err)
		return
	}
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request body").Write(w)
		return
	}
	period, err := ParsePeriod(p.Get("period"), s.loc, s.now())
	if err != nil {
		s.fail(w, r, applog.OpSetBudget, err)
		return
	}
	amount, err := ParseBudgetAmount(p.Get("monthly_budget", "amount"))
	if err != nil {
		s.fail(w, r, applog.OpSetBudget, err)
		return
	}

	budget, err := s.deps.Ledger.SetBudget(r.Context(), period, amount)
	s.invalidate(owner)
	if err != nil {
		s.fail(w, r, applog.OpSetBudget, err)
		return
	}
	NewResponse().Data(toBudgetDTO(&budget)).Write(w)
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		s.fail(w, r, applog.OpRecompute, err)
		return
	}
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request body").Write(w)
		return
	}
	raw := p.Get("period")
	if raw == "" {
		raw = r.URL.Query().Get("period")
	}
	period, err := ParsePeriod(raw, s.loc, s.now())
	if err != nil {
		s.fail(w, r, applog.OpRecompute, err)
		return
	}

	budget, err := s.deps.Ledger.Recompute(r.Context(), period)
	s.invalidate(owner)
	if err != nil {
		s.fail(w, r, applog.OpRecompute, err)
		return
	}
	NewResponse().Data(toBudgetDTO(budget)).Write(w)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := s.now()
	period, err := ParsePeriod(q.Get("period"), s.loc, now)
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}
	window, err := ParseWindow(q.Get("window"))
	if err != nil {
		s.fail(w, r, applog.OpRead, err)
		return
	}

	owner, _ := session.OwnerFromContext(r.Context())
	key := owner + "|" + string(period) + "|" + now.In(s.loc).Format(dateLayout) + "|" + strconv.Itoa(window)
	if owner != "" {
		if cached, ok := s.reports.Get(key); ok {
			NewResponse().Data(cached).Write(w)
			return
		}
	}

	gen := s.generation(owner)
	report, err := s.deps.Ledger.Analytics(r.Context(), period, now, window)
	dto := toReportDTO(report)
	if err == nil && owner != "" {
		s.cacheReport(owner, key, gen, dto)
	}
	s.read(w, r, applog.OpRead, dto, err)
}
