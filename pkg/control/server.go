package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/log"
	"github.com/Tayen15/KZT-sub000/pkg/monitor"
	"github.com/Tayen15/KZT-sub000/pkg/runtimeapply"
	"github.com/Tayen15/KZT-sub000/pkg/service"
	"github.com/Tayen15/KZT-sub000/pkg/sessions"
)

const (
	defaultMaxBodyBytes = 16 * 1024
)

// MonitorService is what the control API reads and drives.
type MonitorService interface {
	Targets() []monitor.MonitorTarget
	Observe(key string) (monitor.Observation, bool)
	Refresh(key string) error
}

// SessionController starts and stops voice sessions.
type SessionController interface {
	Start(ctx context.Context, ownerKey, targetID string) (sessions.Handle, error)
	Stop(ctx context.Context, ownerKey string) error
	Handles() []sessions.Handle
}

// Reloader re-reads the monitors file and applies it.
type Reloader interface {
	Reload(ctx context.Context) (runtimeapply.Result, error)
}

// ServiceReporter reports the state of the managed services.
type ServiceReporter interface {
	Snapshot() []service.ServiceStatus
	CheckHealth(ctx context.Context) bool
}

// Server exposes operational controls for a running statusbot instance.
type Server struct {
	addr       string
	monitors   MonitorService
	actions    *Handler
	sessions   SessionController
	reloader   Reloader
	services   ServiceReporter
	httpServer *http.Server
	listener   net.Listener
}

// NewServer returns nil if addr is empty. voice may be nil when voice
// sessions are disabled.
func NewServer(addr string, monitors MonitorService, actions *Handler, voice SessionController) *Server {
	addr = strings.TrimSpace(addr)
	if addr == "" || monitors == nil {
		return nil
	}

	s := &Server{
		addr:     addr,
		monitors: monitors,
		actions:  actions,
		sessions: voice,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetReloader enables POST /v1/reload.
func (s *Server) SetReloader(r Reloader) {
	if s != nil {
		s.reloader = r
	}
}

// SetServices enables GET /v1/services and makes /healthz fail while any
// service is unhealthy.
func (s *Server) SetServices(r ServiceReporter) {
	if s != nil {
		s.services = r
	}
}

// Routes returns the HTTP handler serving the control API.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/monitors", s.handleListMonitors).Methods(http.MethodGet)
	r.HandleFunc("/v1/monitors/{key}", s.handleGetMonitor).Methods(http.MethodGet)
	r.HandleFunc("/v1/monitors/{key}/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/v1/monitors/{key}/actions/{action}", s.handleAction).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions", s.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/v1/sessions/{owner}", s.handleStartSession).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/{owner}", s.handleStopSession).Methods(http.MethodDelete)
	r.HandleFunc("/v1/reload", s.handleReload).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/services", s.handleListServices).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth)
	return r
}

// Start opens the control server listening socket.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind control server: %w", err)
	}
	s.listener = ln

	log.ApplicationLogger().Info("Control server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ApplicationLogger().Error("Control server stopped unexpectedly", "err", err)
		}
	}()

	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts down the control server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown control server: %w", err)
	}

	log.ApplicationLogger().Info("Control server stopped", "addr", s.addr)
	return nil
}

type monitorView struct {
	OwnerKey   string         `json:"owner_key"`
	MonitorKey string         `json:"monitor_key"`
	Kind       string         `json:"kind"`
	ChannelID  string         `json:"channel_id"`
	Interval   string         `json:"poll_interval"`
	Status     string         `json:"status"`
	Online     *bool          `json:"online,omitempty"`
	Transition string         `json:"last_transition,omitempty"`
	LastTick   *time.Time     `json:"last_tick,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	MessageID  string         `json:"message_id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (s *Server) view(t monitor.MonitorTarget, detailed bool) monitorView {
	v := monitorView{
		OwnerKey:   t.OwnerKey,
		MonitorKey: t.MonitorKey,
		Kind:       string(t.Kind),
		ChannelID:  t.ChannelID,
		Interval:   t.PollInterval.String(),
		Status:     monitor.StatusUnknown,
	}
	obs, ok := s.monitors.Observe(t.MonitorKey)
	if !ok {
		return v
	}
	if obs.HasBaseline {
		online := obs.Snapshot.Online
		v.Online = &online
		v.Status = obs.Snapshot.Status()
		if detailed {
			v.Attributes = obs.Snapshot.Attributes
		}
	}
	if !obs.LastTick.IsZero() {
		tick := obs.LastTick
		v.LastTick = &tick
		v.Transition = obs.Transition.String()
	}
	if obs.LastError != nil {
		v.LastError = obs.LastError.Error()
	}
	v.MessageID = obs.Message.MessageID
	return v
}

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	targets := s.monitors.Targets()
	items := make([]monitorView, 0, len(targets))
	for _, t := range targets {
		items = append(items, s.view(t, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	obs, ok := s.monitors.Observe(key)
	if !ok {
		http.Error(w, "monitor not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.view(obs.Target, true))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := s.monitors.Refresh(key); err != nil {
		if errors.Is(err, apperrors.ErrUnknownMonitor) {
			http.Error(w, "monitor not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if s.actions == nil {
		http.Error(w, "control actions unavailable", http.StatusServiceUnavailable)
		return
	}
	vars := mux.Vars(r)
	res := s.actions.Handle(r.Context(), ControlAction{
		Name:      ActionName(vars["action"]),
		TargetID:  vars["key"],
		Requester: "control-api",
	})
	writeJSON(w, actionStatus(res), map[string]any{
		"success": res.Success,
		"message": res.Message,
	})
}

func actionStatus(res Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case errors.Is(res.Err, apperrors.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(res.Err, apperrors.ErrUnknownMonitor):
		return http.StatusNotFound
	case errors.Is(res.Err, apperrors.ErrActionNotAllowed):
		return http.StatusConflict
	case errors.Is(res.Err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

type sessionView struct {
	OwnerKey string `json:"owner_key"`
	TargetID string `json:"target_id"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Error(w, "voice sessions disabled", http.StatusServiceUnavailable)
		return
	}
	handles := s.sessions.Handles()
	items := make([]sessionView, 0, len(handles))
	for _, h := range handles {
		items = append(items, sessionView{OwnerKey: h.OwnerKey, TargetID: h.TargetID})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Error(w, "voice sessions disabled", http.StatusServiceUnavailable)
		return
	}
	owner := mux.Vars(r)["owner"]

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)
	defer r.Body.Close()

	var req struct {
		TargetID string `json:"target_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.TargetID) == "" {
		http.Error(w, "target_id required", http.StatusBadRequest)
		return
	}

	h, err := s.sessions.Start(r.Context(), owner, strings.TrimSpace(req.TargetID))
	if err != nil {
		log.ApplicationLogger().Warn("Starting session from control API failed", "owner", owner, "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView{OwnerKey: h.OwnerKey, TargetID: h.TargetID})
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Error(w, "voice sessions disabled", http.StatusServiceUnavailable)
		return
	}
	owner := mux.Vars(r)["owner"]
	if err := s.sessions.Stop(r.Context(), owner); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	if s.services == nil {
		http.Error(w, "service status not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.services.Snapshot()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.services != nil && !s.services.CheckHealth(r.Context()) {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		http.Error(w, "reload not available", http.StatusServiceUnavailable)
		return
	}
	res, err := s.reloader.Reload(r.Context())
	if err != nil {
		log.ErrorLoggerRaw().Error("Config reload failed", "err", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "result": res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.ApplicationLogger().Error("Failed to encode control response", "err", err)
	}
}
