package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"alliance.ledger/internal/metrics"
	"alliance.ledger/internal/service"
)

type Options struct {
	JWTSecret string
	// RateLimit is the sustained requests per second allowed per caller.
	RateLimit float64
	RateBurst int
}

type Server struct {
	svc     *service.Service
	secret  []byte
	log     *zap.Logger
	metrics *metrics.Metrics
	limiter *limiter
}

func NewServer(svc *service.Service, opts Options, log *zap.Logger, m *metrics.Metrics) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		svc:     svc,
		secret:  []byte(opts.JWTSecret),
		log:     log,
		metrics: m,
		limiter: newLimiter(rate.Limit(opts.RateLimit), opts.RateBurst, maxBuckets, bucketIdle),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID, s.instrument)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware, s.rateLimit)

		r.Post("/members", s.handleRegisterMember)
		r.Route("/members/{memberID}", func(r chi.Router) {
			r.Get("/earnings", s.handleGetEarnings)
			r.Get("/sponsor", s.handleGetSponsor)
			r.Get("/referrals", s.handleListReferrals)
			r.Post("/deposits", s.handleDeposit)
			r.Post("/referral-bounties", s.handleReferralBounty)
			r.Get("/transactions", s.handleListTransactions)
			r.Get("/packages", s.handleListPackages)
		})

		r.Post("/packages", s.handlePurchasePackage)
		r.Post("/packages/{connectionID}/claim", s.handleClaimPackage)

		r.Post("/withdrawals", s.handleCreateWithdrawal)
		r.Get("/withdrawals", s.handleListWithdrawals)
		r.Get("/withdrawals/{id}", s.handleGetWithdrawal)
		r.Post("/withdrawals/{id}/transition", s.handleTransitionWithdrawal)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		s.logError("health_check_failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type requestIDKey struct{}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

const (
	maxBuckets = 10000
	bucketIdle = 10 * time.Minute
)

// limiter hands out one token bucket per caller. Buckets idle for longer
// than the TTL, or pushed out by newer callers, are dropped; a returning
// caller starts with a full bucket.
type limiter struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *rate.Limiter]
	rate    rate.Limit
	burst   int
}

func newLimiter(r rate.Limit, burst, size int, idle time.Duration) *limiter {
	return &limiter{
		buckets: expirable.NewLRU[string, *rate.Limiter](size, nil, idle),
		rate:    r,
		burst:   burst,
	}
}

func (l *limiter) allow(key string) bool {
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets.Get(key)
	if !ok {
		b = rate.NewLimiter(l.rate, l.burst)
	}
	// re-adding refreshes the idle deadline
	l.buckets.Add(key, b)
	l.mu.Unlock()
	return b.Allow()
}

// rateLimit runs after authMiddleware and keys buckets by member id.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if p, ok := principalFrom(r.Context()); ok {
			key = p.ID.String()
		}
		if !s.limiter.allow(key) {
			s.logEvent("rate_limited", map[string]any{"key": key, "path": r.URL.Path})
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}
