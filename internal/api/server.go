package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "Auditum/internal/errors"
	"Auditum/internal/events"
	"Auditum/internal/observability/metrics"
	"Auditum/internal/storage/mysql"
	"Auditum/pkg/logger"
	"Auditum/pkg/module"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server 暴露已加载模块的只读接口。
type Server struct {
	addr    string
	catalog *Catalog
	history mysql.LoadHistory
	events  events.History
	metrics *metrics.Collector
	logger  *slog.Logger
}

// Option 修改 Server 的可选依赖。
type Option func(*Server)

// WithHistory 启用 /api/v1/history 与 /api/v1/modules/{name}/history。
func WithHistory(h mysql.LoadHistory) Option {
	return func(s *Server) { s.history = h }
}

// WithEvents 启用 /api/v1/events。
func WithEvents(h events.History) Option {
	return func(s *Server) {
		switch p := h.(type) {
		case *events.MemoryPublisher:
			if p == nil {
				return
			}
		case *events.RedisPublisher:
			if p == nil {
				return
			}
		}
		s.events = h
	}
}

// WithMetrics 挂载 /metrics 并为每个路由记录请求指标。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithLogger 覆盖默认的访问日志记录器。
func WithLogger(lg *slog.Logger) Option {
	return func(s *Server) {
		if lg != nil {
			s.logger = lg
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, catalog *Catalog, opts ...Option) *Server {
	if catalog == nil {
		catalog = NewCatalog()
	}
	s := &Server{addr: addr, catalog: catalog}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	s.route(r, http.MethodGet, "/healthz", "healthz", s.handleHealth)
	s.route(r, http.MethodGet, "/api/v1/modules", "modules", s.handleListModules)
	s.route(r, http.MethodGet, "/api/v1/modules/{name}", "module", s.handleModuleDetail)
	s.route(r, http.MethodGet, "/api/v1/modules/{name}/history", "module_history", s.handleModuleHistory)
	s.route(r, http.MethodGet, "/api/v1/history", "history", s.handleHistory)
	s.route(r, http.MethodGet, "/api/v1/failures", "failures", s.handleFailures)
	s.route(r, http.MethodGet, "/api/v1/events", "events", s.handleEvents)
	s.route(r, http.MethodPost, "/api/v1/search", "search", s.handleSearch)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

func (s *Server) route(r chi.Router, method, pattern, name string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if s.metrics != nil {
		h = s.metrics.InstrumentHandler(name, h)
	}
	r.Method(method, pattern, h)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type moduleView struct {
	Name         string         `json:"name"`
	Role         module.Role    `json:"role"`
	LoadID       string         `json:"load_id"`
	EntryPath    string         `json:"entry_path"`
	Dir          string         `json:"dir"`
	ManifestPath string         `json:"manifest_path"`
	Capabilities []string       `json:"capabilities"`
	Extra        map[string]any `json:"extra,omitempty"`
	LoadedAt     time.Time      `json:"loaded_at"`
}

func viewOf(h *module.Handle, detailed bool) moduleView {
	v := moduleView{
		Name:         h.Name(),
		Role:         h.Role(),
		LoadID:       h.ID,
		EntryPath:    h.Manifest.EntryPath,
		Dir:          h.Manifest.Dir,
		ManifestPath: h.Manifest.ManifestPath,
		Capabilities: h.Surface.Names(),
		LoadedAt:     h.LoadedAt.UTC(),
	}
	if detailed {
		v.Extra = h.Manifest.Extra
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"modules":  s.catalog.Len(),
		"failures": len(s.catalog.Failures()),
	})
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	handles := s.catalog.List()
	if raw := strings.TrimSpace(r.URL.Query().Get("role")); raw != "" {
		role, err := module.ParseRole(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		handles = s.catalog.ByRole(role)
	}
	views := make([]moduleView, 0, len(handles))
	for _, h := range handles {
		views = append(views, viewOf(h, false))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleModuleDetail(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h, ok := s.catalog.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("模块不存在: "+name))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(h, true))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("未启用加载历史"))
		return
	}
	records, err := s.history.ListLatest(r.Context(), queryLimit(r, 50))
	writeRecords(w, records, err)
}

func (s *Server) handleModuleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("未启用加载历史"))
		return
	}
	records, err := s.history.ListByModule(r.Context(), chi.URLParam(r, "name"), queryLimit(r, 20))
	writeRecords(w, records, err)
}

func writeRecords(w http.ResponseWriter, records []mysql.LoadRecord, err error) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []mysql.LoadRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleFailures(w http.ResponseWriter, _ *http.Request) {
	failures := s.catalog.Failures()
	if failures == nil {
		failures = []Failure{}
	}
	writeJSON(w, http.StatusOK, failures)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("未启用事件历史"))
		return
	}
	msgs, err := s.events.History(r.Context(), queryLimit(r, 50))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if msgs == nil {
		msgs = []events.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type searchRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("请求体解析失败"))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, errors.New("query 不能为空"))
		return
	}
	writeJSON(w, http.StatusOK, s.catalog.Search(r.Context(), req.Query))
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("handled request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Duration("duration", time.Since(start)))
	})
}

func queryLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": err.Error()}
	if coded, ok := xerrors.From(err); ok {
		body["code"] = string(coded.Code())
	}
	writeJSON(w, status, body)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
