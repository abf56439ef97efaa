package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	rtsup "nftwatch/internal/runtime/supervisor"
	"nftwatch/internal/storage"
	"nftwatch/internal/watcher"
	logx "nftwatch/pkg/logx"
)

// Watcher is the controller surface exposed over HTTP.
type Watcher interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() watcher.Status
}

// Journal lists recent delivery outcomes.
type Journal interface {
	RecentDeliveries(ctx context.Context, limit int) ([]storage.DeliveryRecord, error)
}

type Deps struct {
	Watcher Watcher
	Journal Journal
	// Health reports extra component state for /healthz; optional.
	Health func() map[string]any
	// Supervisors and Events enrich /status; both optional.
	Supervisors func() map[string]rtsup.SupervisorSnapshot
	Events      func() map[string]uint64
}

type statusBody struct {
	Watcher     watcher.Status                      `json:"watcher"`
	Supervisors map[string]rtsup.SupervisorSnapshot `json:"supervisors,omitempty"`
	Events      map[string]uint64                   `json:"events,omitempty"`
}

const (
	defaultDeliveriesLimit = 20
	maxDeliveriesLimit     = 200
)

// Routes builds the admin handler. token guards everything but /healthz
// when non-empty.
func Routes(cfg Config, d Deps, log logx.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLog(log))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		body := map[string]any{"ok": true}
		if d.Health != nil {
			for k, v := range d.Health() {
				body[k] = v
			}
		}
		respondJSON(w, http.StatusOK, body)
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))

		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			body := statusBody{Watcher: d.Watcher.Status()}
			if d.Supervisors != nil {
				body.Supervisors = d.Supervisors()
			}
			if d.Events != nil {
				body.Events = d.Events()
			}
			respondJSON(w, http.StatusOK, body)
		})
		r.Get("/deliveries", func(w http.ResponseWriter, req *http.Request) {
			if d.Journal == nil {
				respondJSON(w, http.StatusOK, []storage.DeliveryRecord{})
				return
			}
			limit, err := parseLimit(req.URL.Query().Get("limit"))
			if err != nil {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			recs, err := d.Journal.RecentDeliveries(req.Context(), limit)
			if err != nil {
				respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if recs == nil {
				recs = []storage.DeliveryRecord{}
			}
			respondJSON(w, http.StatusOK, recs)
		})
		r.Post("/watcher/start", func(w http.ResponseWriter, req *http.Request) {
			err := d.Watcher.Start(req.Context())
			switch {
			case errors.Is(err, watcher.ErrAlreadyRunning):
				respondError(w, http.StatusConflict, err.Error())
			case err != nil:
				respondError(w, http.StatusInternalServerError, err.Error())
			default:
				respondJSON(w, http.StatusOK, d.Watcher.Status())
			}
		})
		r.Post("/watcher/stop", func(w http.ResponseWriter, req *http.Request) {
			err := d.Watcher.Stop(req.Context())
			switch {
			case errors.Is(err, watcher.ErrNotRunning):
				respondError(w, http.StatusConflict, err.Error())
			case err != nil:
				respondError(w, http.StatusInternalServerError, err.Error())
			default:
				respondJSON(w, http.StatusOK, d.Watcher.Status())
			}
		})

		if cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

func parseLimit(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultDeliveriesLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxDeliveriesLimit), nil
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
					got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
				}
			}
			if got != tok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("admin request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
				logx.String("req_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
