// Package admin exposes a read-only JSON introspection API over the
// running subagent session: its FSM state, registered regions, and live
// two-phase SET transactions. Grounded on the chi router shape the pack
// uses for its own control-plane APIs.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agentx-go/subagent/agentx/session"
)

// NewRouter builds the admin HTTP handler.
//
// Routes:
//   - GET /healthz        - liveness probe, always 200
//   - GET /session        - FSM state, session ID, registration failures
//   - GET /regions        - registered subtrees and snapshot sizes
//   - GET /set-transactions - live two-phase SET transactions
func NewRouter(s *session.Session, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))

	h := &handler{session: s}

	r.Get("/healthz", h.healthz)
	r.Get("/session", h.getSession)
	r.Get("/regions", h.getRegions)
	r.Get("/set-transactions", h.getSetTransactions)

	return r
}

type handler struct {
	session *session.Session
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionView is the JSON shape returned by GET /session.
type sessionView struct {
	State                string                    `json:"state"`
	SessionID            uint32                    `json:"session_id"`
	RegistrationFailures []registrationFailureView `json:"registration_failures"`
}

type registrationFailureView struct {
	Root  string `json:"root"`
	Error string `json:"error"`
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	failures := h.session.RegistrationFailures()
	views := make([]registrationFailureView, 0, len(failures))
	for _, f := range failures {
		views = append(views, registrationFailureView{Root: f.Root.String(), Error: f.Error.String()})
	}

	writeJSON(w, http.StatusOK, sessionView{
		State:                h.session.State().String(),
		SessionID:            h.session.SessionID(),
		RegistrationFailures: views,
	})
}

// regionView is the JSON shape for one entry of GET /regions.
type regionView struct {
	Root         string `json:"root"`
	Priority     uint8  `json:"priority"`
	RangeSubid   uint8  `json:"range_subid"`
	UpperBound   uint32 `json:"upper_bound,omitempty"`
	Context      string `json:"context,omitempty"`
	Writable     bool   `json:"writable"`
	SnapshotSize int    `json:"snapshot_size"`
}

func (h *handler) getRegions(w http.ResponseWriter, r *http.Request) {
	regions := h.session.Regions()
	views := make([]regionView, 0, len(regions))
	for _, reg := range regions {
		views = append(views, regionView{
			Root:         reg.Root.String(),
			Priority:     reg.Priority,
			RangeSubid:   reg.RangeSubid,
			UpperBound:   reg.UpperBound,
			Context:      reg.Context,
			Writable:     reg.Handler != nil,
			SnapshotSize: reg.Snapshot().Len(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// setTransactionView is the JSON shape for one entry of GET /set-transactions.
type setTransactionView struct {
	ID        uint32    `json:"id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *handler) getSetTransactions(w http.ResponseWriter, r *http.Request) {
	txns := h.session.SetTransactions()
	views := make([]setTransactionView, 0, len(txns))
	for _, t := range txns {
		views = append(views, setTransactionView{ID: t.ID, State: t.State.String(), CreatedAt: t.CreatedAt})
	}
	writeJSON(w, http.StatusOK, views)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request at debug level, mirroring the pack's
// lightweight chi request-logging middleware.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("admin request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
