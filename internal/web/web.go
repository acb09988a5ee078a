package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"maginkcal/internal/battery"
	"maginkcal/internal/config"
	appLog "maginkcal/internal/log"
	"maginkcal/internal/model"
	"maginkcal/internal/pipeline"
)

// Runner is the refresh capability the server exposes.
type Runner interface {
	RunOnce(ctx context.Context) (pipeline.Artifacts, error)
	Last() (model.Calendars, pipeline.Artifacts, bool)
	Battery(ctx context.Context) (battery.Status, error)
}

// Server exposes the state of the refresh loop over HTTP.
type Server struct {
	cfg    *config.Config
	runner Runner
	mux    *http.ServeMux

	// 배터리 상태는 짧게 캐시해서 매 요청마다 I2C를 두드리지 않는다.
	batteryMu    sync.RWMutex
	batteryCache *batteryCache
	now          func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, runner Runner) *Server {
	s := &Server{
		cfg:    cfg,
		runner: runner,
		mux:    http.NewServeMux(),
		now:    time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// 빈 사용자명 또는 비밀번호가 설정된 경우에는 비활성화로 취급한다.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health 는 항상 무인증으로 노출한다.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="MagInkCal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewHTTPServer returns an http.Server bound to cfg.Listen. The caller owns
// ListenAndServe and Shutdown.
func NewHTTPServer(cfg *config.Config, runner Runner) *http.Server {
	s := NewServer(cfg, runner)
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/battery", s.handleBattery)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	s.mux.HandleFunc("/preview.png", s.artifactHandler(pipeline.PreviewFile))
	s.mux.HandleFunc("/black.png", s.artifactHandler(pipeline.BlackFile))
	s.mux.HandleFunc("/red.png", s.artifactHandler(pipeline.RedFile))
	s.mux.HandleFunc("/calendar.html", s.artifactHandler(pipeline.DocumentFile))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// batteryCache holds the last known battery status and its timestamp.
type batteryCache struct {
	status    battery.Status
	updatedAt time.Time
}

// handleBattery exposes current battery status (percent, voltage).
//
// Battery status does not need sub-second precision, so a short TTL cache
// sits in front of the reader.
func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	const batteryCacheTTL = 30 * time.Second
	now := s.now()

	s.batteryMu.RLock()
	bc := s.batteryCache
	s.batteryMu.RUnlock()
	if bc != nil && now.Sub(bc.updatedAt) < batteryCacheTTL {
		writeJSON(w, http.StatusOK, bc.status)
		return
	}

	status, err := s.runner.Battery(r.Context())
	if err != nil {
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}

	s.batteryMu.Lock()
	s.batteryCache = &batteryCache{status: status, updatedAt: now}
	s.batteryMu.Unlock()

	writeJSON(w, http.StatusOK, status)
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	RenderedAt      time.Time     `json:"rendered_at"`
	DisplayTimeZone string        `json:"display_timezone"`
	WeekStart       string        `json:"week_start"`
	Calendars       []calendarDTO `json:"calendars"`
}

type calendarDTO struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Icon   string     `json:"icon"`
	Events []eventDTO `json:"events"`
}

type eventDTO struct {
	Summary   string    `json:"summary"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Updated   time.Time `json:"updated,omitzero"`
	AllDay    bool      `json:"all_day"`
	MultiDay  bool      `json:"multi_day"`
	IsUpdated bool      `json:"is_updated"`
}

// handleEvents returns the calendars fetched in the last successful cycle.
// Before the first cycle completes it answers 503.
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	cals, art, ok := s.runner.Last()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no refresh has completed yet")
		return
	}

	resp := eventsResponse{
		RenderedAt:      art.RenderedAt,
		DisplayTimeZone: s.cfg.Timezone,
		WeekStart:       s.cfg.WeekStart,
		Calendars:       make([]calendarDTO, 0, len(cals)),
	}
	for _, c := range cals {
		dto := calendarDTO{ID: c.ID, Name: c.Name, Icon: c.Icon, Events: make([]eventDTO, 0, len(c.Events))}
		for _, ev := range c.Events {
			dto.Events = append(dto.Events, eventDTO{
				Summary:   ev.Summary,
				Start:     ev.Start,
				End:       ev.End,
				Updated:   ev.Updated,
				AllDay:    ev.AllDay,
				MultiDay:  ev.MultiDay,
				IsUpdated: ev.IsUpdated,
			})
		}
		resp.Calendars = append(resp.Calendars, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh runs a cycle synchronously. POST only.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	appLog.Info("refresh requested via HTTP", "remote", r.RemoteAddr)
	art, err := s.runner.RunOnce(r.Context())
	if err != nil {
		appLog.Error("refresh failed", err)
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, art)
}

// artifactHandler serves one file of the last successful cycle.
func (s *Server) artifactHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, art, ok := s.runner.Last()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		// http.ServeFile 가 파일 존재/권한 문제에 대해 적절한 상태코드를 반환해 준다.
		http.ServeFile(w, r, filepath.Join(art.Dir, name))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
