package http

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"budgetd/internal/middleware/trace"
	"budgetd/internal/services"
)

// OwnerResolver extracts the authenticated owner id from a request. The
// credential layer itself is an external collaborator; the server only
// consumes its result.
type OwnerResolver func(*http.Request) (int64, error)

// HeaderOwnerResolver reads the owner id from a header set by the
// authenticating reverse proxy. Used as the default resolver.
func HeaderOwnerResolver(header string) OwnerResolver {
	return func(r *http.Request) (int64, error) {
		raw := strings.TrimSpace(r.Header.Get(header))
		if raw == "" {
			return 0, errMissingOwner
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return 0, errMissingOwner
		}
		return id, nil
	}
}

// Server serves the budget API.
type Server struct {
	http.Server
	service      *services.BudgetService
	resolveOwner OwnerResolver
	trace        *trace.Middleware
}

// NewServer wires routes, tracing middleware and timeouts.
func NewServer(addr string, service *services.BudgetService, resolver OwnerResolver) *Server {
	if resolver == nil {
		resolver = HeaderOwnerResolver("X-User-ID")
	}

	s := &Server{
		service:      service,
		resolveOwner: resolver,
		trace:        trace.NewMiddleware(clientIP),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/budgets", s.handleSaveBudget)
	mux.HandleFunc("PUT /api/budgets/{id}", s.handleReplaceBudget)
	mux.HandleFunc("DELETE /api/budgets/{id}", s.handleDeleteBudget)
	mux.HandleFunc("GET /api/budgets/latest", s.handleLatestBudget)
	mux.HandleFunc("GET /api/budgets/history", s.handleBudgetHistory)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.Addr = addr
	s.Handler = s.trace.Middleware(mux)
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 10 * time.Second
	s.IdleTimeout = 60 * time.Second
	s.MaxHeaderBytes = 1 << 16 // 64KB

	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientIP prefers proxy-provided headers and falls back to the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
