package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/janekbaraniewski/apiusage/internal/config"
	"github.com/janekbaraniewski/apiusage/internal/core"
	"github.com/janekbaraniewski/apiusage/internal/metrics"
	"github.com/janekbaraniewski/apiusage/internal/scheduler"
	"github.com/janekbaraniewski/apiusage/internal/velocity"
	"github.com/janekbaraniewski/apiusage/internal/version"
)

const (
	// refreshWait bounds how long a request waits on a poll cycle.
	refreshWait = 15 * time.Second

	RefreshesPerMinute = 6
	refreshBurst       = 2
)

// HistoryReader is the read side of the history store.
type HistoryReader interface {
	Query(ctx context.Context, kind core.ServiceKind, window core.TimeWindow) ([]core.HistoryPoint, error)
	QuerySince(ctx context.Context, kind core.ServiceKind, since time.Time) ([]core.HistoryPoint, error)
}

// Server is the loopback HTTP surface over the cache, history and scheduler.
type Server struct {
	config    *config.Manager
	scheduler *scheduler.Scheduler
	history   HistoryReader
	metrics   *metrics.Metrics
	log       *zap.Logger
	limiter   *rate.Limiter
	now       func() time.Time
}

func NewServer(cfg *config.Manager, sched *scheduler.Scheduler, history HistoryReader, m *metrics.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		config:    cfg,
		scheduler: sched,
		history:   history,
		metrics:   m,
		log:       log,
		limiter:   rate.NewLimiter(rate.Limit(float64(RefreshesPerMinute)/60.0), refreshBurst),
		now:       time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.log))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLog(s.log))
	r.Use(s.metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Get("/usage", s.handleUsageAll)
	r.Get("/usage/{id}", s.handleUsage)
	r.Get("/history/{id}", s.handleHistory)
	r.Get("/velocity/{id}", s.handleVelocity)
	r.Post("/config", s.handleConfig)
	r.Post("/refresh", s.handleRefresh)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Listen binds the loopback listener. Failing here is the daemon's only
// fatal startup error.
func Listen(port int) (net.Listener, error) {
	if port <= 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// Serve runs the HTTP server on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      refreshWait + 5*time.Second,
		IdleTimeout:       20 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("http_shutdown", zap.String("reason", "context_done"))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("http_listening", zap.String("addr", ln.Addr().String()))
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		DaemonVersion: strings.TrimSpace(version.Version),
		APIVersion:    APIVersion,
		State:         string(s.scheduler.State()),
	})
}

func (s *Server) handleUsageAll(w http.ResponseWriter, _ *http.Request) {
	cfg := s.config.Current()
	items := make([]UsageItem, 0, len(cfg.Services))
	for _, kind := range cfg.EnabledServices() {
		items = append(items, s.usageItem(kind, cfg))
	}
	writeJSON(w, http.StatusOK, UsageResponse{Services: items})
}

// handleUsage serves one service. A stale entry whose last poll succeeded
// is refreshed first, so a reader sees data older than the TTL only when
// the service is failing.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.serviceParam(w, r)
	if !ok {
		return
	}
	cfg := s.config.Current()
	if svc, ok := cfg.Services[kind]; !ok || !svc.Enabled {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("service %q is not enabled", kind))
		return
	}

	entry, cached := s.scheduler.Cache().Get(kind)
	if !cached || (entry.Stale && !entry.LastPollFailed) {
		ctx, cancel := context.WithTimeout(r.Context(), refreshWait)
		_, err := s.scheduler.Refresh(ctx)
		cancel()
		if err != nil {
			s.log.Warn("usage_refresh_failed", zap.String("service", string(kind)), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, s.usageItem(kind, cfg))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.serviceParam(w, r)
	if !ok {
		return
	}
	period, err := core.ParseTimeWindow(r.URL.Query().Get("period"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	data := []core.HistoryPoint{}
	if s.history != nil {
		data, err = s.history.Query(r.Context(), kind, period)
		if err != nil {
			s.log.Warn("history_store_error", zap.String("op", "query"), zap.String("service", string(kind)), zap.Error(err))
			writeJSONError(w, http.StatusServiceUnavailable, "history unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{ServiceID: kind, Period: period, Data: data})
}

func (s *Server) handleVelocity(w http.ResponseWriter, r *http.Request) {
	kind, ok := s.serviceParam(w, r)
	if !ok {
		return
	}
	model := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("model")))
	if model == "" {
		model = velocity.ModelLinear
	}

	now := s.now()
	entry, cached := s.scheduler.Cache().Get(kind)
	resp := VelocityResponse{ServiceID: kind, Model: model, Windows: []core.VelocityEstimate{}}

	switch model {
	case velocity.ModelLinear:
		if !cached {
			resp.Primary = core.VelocityEstimate{ServiceID: kind, Model: model, Reason: velocity.ReasonInsufficientData}
			break
		}
		primary, windows := velocity.ForSnapshot(velocity.Aged(entry.Snapshot, entry.Age), now)
		resp.Primary = primary
		if windows != nil {
			resp.Windows = windows
		}
	case velocity.ModelHistory:
		var points []core.HistoryPoint
		if s.history != nil {
			var err error
			points, err = s.history.QuerySince(r.Context(), kind, now.Add(-velocity.HistoryLookback))
			if err != nil {
				s.log.Warn("history_store_error", zap.String("op", "query"), zap.String("service", string(kind)), zap.Error(err))
			}
		}
		resp.Primary = velocity.FromHistory(kind, "", points, now)
		if cached && entry.Snapshot.Details != nil {
			for _, win := range entry.Snapshot.Details.Windows {
				resp.Windows = append(resp.Windows, velocity.FromHistory(kind, win.Name, points, now))
			}
		}
	default:
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unsupported model %q (want %s or %s)", model, velocity.ModelLinear, velocity.ModelHistory))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "read payload failed")
		return
	}

	candidate, err := config.Decode(body, config.FormatJSON)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	applied, err := s.config.Apply(candidate)
	if err != nil {
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			s.log.Info("config_rejected", zap.Error(err))
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: verr.Error(), Fields: verr.Fields})
			return
		}
		s.log.Warn("config_persist_failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("config_applied",
		zap.Int("refresh_interval_minutes", applied.RefreshIntervalMinutes),
		zap.Int("enabled_services", len(applied.EnabledServices())),
	)
	writeJSON(w, http.StatusOK, applied.Redacted())
}

// handleRefresh polls synchronously. Past the rate limit it does not start
// a new cycle: it joins the one in flight or replays the last one.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshWait)
	defer cancel()

	var (
		cycle     scheduler.Cycle
		replayed  bool
		throttled = !s.limiter.Allow()
	)
	if throttled && s.scheduler.State() == scheduler.StateIdle {
		cycle, replayed = s.scheduler.LastCycle()
	}
	if !replayed {
		var err error
		cycle, err = s.scheduler.Refresh(ctx)
		if err != nil {
			writeJSONError(w, http.StatusGatewayTimeout, fmt.Sprintf("refresh did not complete: %v", err))
			return
		}
	}
	if throttled {
		s.log.Debug("refresh_throttled", zap.String("cycle_id", cycle.ID), zap.Bool("replayed", replayed))
	}

	cfg := s.config.Current()
	items := make([]UsageItem, 0, len(cycle.Snapshots))
	for _, snap := range cycle.Snapshots {
		items = append(items, s.cycleItem(snap, cycle.Finished, cfg))
	}
	writeJSON(w, http.StatusOK, RefreshResponse{
		CycleID:   cycle.ID,
		Trigger:   cycle.Trigger,
		Finished:  cycle.Finished,
		Throttled: throttled,
		Services:  items,
	})
}

// cycleItem renders a snapshot exactly as the cycle produced it. A failed
// poll carries the cached last known values, the same merge the cache does.
func (s *Server) cycleItem(snap core.UsageSnapshot, finished time.Time, cfg config.Config) UsageItem {
	item := UsageItem{
		UsageSnapshot:  snap,
		AgeSeconds:     max(0, s.now().Sub(finished).Seconds()),
		LastPollFailed: snap.Failed(),
	}
	if snap.Failed() {
		if entry, ok := s.scheduler.Cache().Get(snap.ID); ok && entry.Snapshot.Percentage != nil {
			item.UsageSnapshot = entry.Snapshot
			item.Error = snap.Error
			item.LastUpdated = snap.LastUpdated
			item.AgeSeconds = entry.Age.Seconds()
			item.Stale = entry.Stale
		}
	}
	item.Level = core.LevelFor(item.Percentage, cfg.WarningThreshold, cfg.CriticalThreshold)
	return item
}

func (s *Server) usageItem(kind core.ServiceKind, cfg config.Config) UsageItem {
	entry, ok := s.scheduler.Cache().Get(kind)
	if !ok {
		name := kind.DisplayName(cfg.Services[kind].Label)
		snap := core.NormalizeSnapshot(core.NewErrorSnapshot(kind, name, "Not yet polled", s.now()), kind, name, s.now())
		return UsageItem{UsageSnapshot: snap, Level: core.LevelUnknown}
	}
	return UsageItem{
		UsageSnapshot:  entry.Snapshot,
		AgeSeconds:     entry.Age.Seconds(),
		Stale:          entry.Stale,
		LastPollFailed: entry.LastPollFailed,
		Level:          core.LevelFor(entry.Snapshot.Percentage, cfg.WarningThreshold, cfg.CriticalThreshold),
	}
}

func (s *Server) serviceParam(w http.ResponseWriter, r *http.Request) (core.ServiceKind, bool) {
	raw := chi.URLParam(r, "id")
	kind, err := core.ParseServiceKind(raw)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown service: %s", raw))
		return "", false
	}
	return kind, true
}

// jsonRecoverer turns a handler panic into a JSON 500.
func jsonRecoverer(log *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					log.Error("http_panic", zap.Any("panic", rvr), zap.Stack("stacktrace"))
					writeJSONError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestLog(log *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http_request",
				zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
