package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"smartspend/internal/cache"
	"smartspend/internal/core"
	applog "smartspend/internal/log"
	"smartspend/internal/metrics"
	"smartspend/internal/middleware/ratelimit"
	"smartspend/internal/middleware/security"
	"smartspend/internal/middleware/trace"
	"smartspend/internal/services"
	"smartspend/internal/session"
)

const (
	reportCacheSize    = 500
	cacheCleanInterval = 5 * time.Minute
)

// AdviceRequester produces on-demand advice for a period.
type AdviceRequester interface {
	RequestAdvice(ctx context.Context, owner string, period core.PeriodKey) (core.ChatMessage, error)
}

// Check reports the readiness of one dependency.
type Check func(ctx context.Context) error

// Deps are the collaborators the handlers call.
type Deps struct {
	Ledger  *services.LedgerService
	Chat    *services.ChatService
	Advisor AdviceRequester
	Metrics *metrics.Metrics
	// Verifier enables bearer tokens; nil trusts the X-Owner-ID header.
	Verifier *session.Verifier
	Checks   map[string]Check
}

type Options struct {
	RateLimitPerMinute int
	CacheTTL           time.Duration
	TrustedProxies     []string
	Logger             *applog.Logger
}

type Server struct {
	http.Server
	deps    Deps
	loc     *time.Location
	now     func() time.Time
	started time.Time

	limiter  *ratelimit.Limiter
	reports  *cache.LRUCache[reportDTO]
	cacheMgr *cache.Manager

	// generations counts report invalidations per owner.
	genMu       sync.Mutex
	generations map[string]uint64

	shutdownOnce sync.Once
}

func NewServer(addr string, deps Deps, opts Options) (*Server, error) {
	clientIP, err := security.NewClientIP(opts.TrustedProxies...)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = applog.FromContext(context.Background())
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	s := &Server{
		deps:     deps,
		loc:      deps.Ledger.Location(),
		now:      time.Now,
		started:  time.Now(),
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		reports:  cache.NewLRUCache[reportDTO](reportCacheSize, ttl),
		cacheMgr: cache.NewManager(),

		generations: make(map[string]uint64),
	}
	s.cacheMgr.Register(s.reports)
	s.cacheMgr.StartCleanup(cacheCleanInterval)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/entries", s.handleListEntries)
	api.HandleFunc("POST /api/entries", s.handleCreateEntry)
	api.HandleFunc("PUT /api/entries/{id}", s.handleUpdateEntry)
	api.HandleFunc("DELETE /api/entries/{id}", s.handleDeleteEntry)
	api.HandleFunc("GET /api/budget", s.handleGetBudget)
	api.HandleFunc("PUT /api/budget", s.handleSetBudget)
	api.HandleFunc("POST /api/budget/recompute", s.handleRecompute)
	api.HandleFunc("GET /api/analytics", s.handleAnalytics)
	api.HandleFunc("GET /api/chat", s.handleChatHistory)
	api.HandleFunc("POST /api/chat", s.handleChatSend)
	api.HandleFunc("POST /api/advice", s.handleAdvice)
	api.HandleFunc("GET /api/events", s.handleEvents)

	limited := s.limiter.Middleware(func(r *http.Request) string {
		if owner, ok := session.OwnerFromContext(r.Context()); ok {
			return "owner:" + owner
		}
		return "ip:" + clientIP.Extract(r)
	}, func(w http.ResponseWriter, r *http.Request) {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded", applog.FieldPath, r.URL.Path)
		TooManyRequestsError().Write(w)
	})(api)

	mux := http.NewServeMux()
	mux.Handle("/api/", session.Middleware(deps.Verifier)(limited))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", deps.Metrics.Handler())

	var handler http.Handler = mux
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = applog.Middleware(logger, trace.GetRequestID)(handler)
	handler = trace.NewMiddleware(clientIP.Extract, deps.Metrics.ObserveHTTP).Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Shutdown stops background helpers and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		s.cacheMgr.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// invalidate drops cached reports of owner after a mutation attempt.
func (s *Server) invalidate(owner string) {
	if owner == "" {
		return
	}
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.generations[owner]++
	s.reports.DeletePrefix(owner + "|")
}

func (s *Server) generation(owner string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[owner]
}

// cacheReport stores dto unless owner's reports were invalidated after gen
// was read.
func (s *Server) cacheReport(owner, key string, gen uint64, dto reportDTO) bool {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.generations[owner] != gen {
		return false
	}
	s.reports.Set(key, dto)
	return true
}

// fail maps err onto a status. Cancellation writes nothing.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	owner, _ := session.OwnerFromContext(ctx)
	logger := applog.FromContext(ctx)
	fields := applog.NewFields().WithOperation(op).WithOwner(owner).WithError(err).ToSlice()

	switch {
	case core.IsCancellation(err):
		logger.DebugContext(ctx, "Request cancelled", fields...)
	case core.IsValidation(err):
		BadRequestError(err.Error()).Write(w)
	case errors.Is(err, core.ErrNotAuthenticated):
		UnauthorizedError().Write(w)
	case errors.Is(err, core.ErrNotFound):
		NotFoundError("Entry not found").Write(w)
	case errors.Is(err, core.ErrPersistence):
		logger.ErrorContext(ctx, "Storage failure", fields...)
		ServiceUnavailableError().Write(w)
	default:
		logger.ErrorContext(ctx, "Request failed", fields...)
		InternalServerError().Write(w)
	}
}

// mutated writes the result of a mutation. A budget left out of sync still
// counts as success, with a notice.
func (s *Server) mutated(w http.ResponseWriter, r *http.Request, op string, status int, data any, err error) {
	if err != nil && !errors.Is(err, core.ErrBudgetOutOfSync) {
		s.fail(w, r, op, err)
		return
	}
	resp := NewResponse().Status(status).Data(data)
	if err != nil {
		owner, _ := session.OwnerFromContext(r.Context())
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Mutation saved with budget out of sync",
			applog.NewFields().WithOperation(op).WithOwner(owner).WithError(err).ToSlice()...)
		resp.Notice(NoticeOutOfSync)
	}
	resp.Write(w)
}

// read writes the result of a read. Storage failures degrade to data with a notice.
func (s *Server) read(w http.ResponseWriter, r *http.Request, op string, data any, err error) {
	if err != nil && !errors.Is(err, core.ErrPersistence) {
		s.fail(w, r, op, err)
		return
	}
	resp := NewResponse().Data(data)
	if err != nil {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Serving stale data",
			applog.NewFields().WithOperation(op).WithError(err).ToSlice()...)
		resp.Notice(NoticeStale)
	}
	resp.Write(w)
}

func requireOwner(r *http.Request) (string, error) {
	owner, ok := session.OwnerFromContext(r.Context())
	if !ok {
		return "", core.ErrNotAuthenticated
	}
	return owner, nil
}
