package api

import (
	"errors"
	"log"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	openai "github.com/sashabaranov/go-openai"

	"care-talk/server/internal/config"
	"care-talk/server/internal/gateway"
	"care-talk/server/internal/model"
	"care-talk/server/internal/observe"
	"care-talk/server/internal/orchestrator"
	"care-talk/server/internal/practice"
	"care-talk/server/internal/session"
	"care-talk/server/internal/speech"
	"care-talk/server/internal/timeline"
)

type Server struct {
	config   *config.Config
	manager  *orchestrator.Manager
	store    session.Store
	timeline timeline.Store
	analyzer *practice.Analyzer
	metrics  *observe.Metrics

	gwConfig gateway.Config
	// gateways 每个会话最多一个活跃网关，新连接接管旧连接
	gateways   map[string]*gateway.Gateway
	gatewaysMu sync.Mutex

	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, manager *orchestrator.Manager, store session.Store, tl timeline.Store, metrics *observe.Metrics) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	s := &Server{
		config:   cfg,
		manager:  manager,
		store:    store,
		timeline: tl,
		analyzer: practice.NewAnalyzer(),
		metrics:  metrics,
		gwConfig: gatewayConfig(cfg),
		gateways: make(map[string]*gateway.Gateway),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// 非浏览器客户端不带 Origin
			return origin == "" || s.originAllowed(origin)
		},
	}
	return s
}

// gatewayConfig 按语音模式组装网关配置；openai 模式共用 LLM 的 OpenAI 凭据
func gatewayConfig(cfg *config.Config) gateway.Config {
	gw := gateway.Config{
		SpeechMode:   cfg.Speech.Mode,
		PingInterval: cfg.Server.PingInterval,
		WriteTimeout: cfg.Server.WriteTimeout,
		AudioFormat:  "webm",
	}
	if cfg.Speech.Mode != config.SpeechOpenAI {
		return gw
	}

	oaCfg := openai.DefaultConfig(cfg.LLM.OpenAI.APIKey)
	if cfg.LLM.OpenAI.APIURL != "" {
		oaCfg.BaseURL = cfg.LLM.OpenAI.APIURL
	}
	client := openai.NewClientWithConfig(oaCfg)
	gw.Transcriber = speech.NewOpenAITranscriber(client, cfg.Speech.STTModel, cfg.Speech.Language)
	gw.NewSynthesizer = func(sink speech.AudioSink) speech.Synthesizer {
		return speech.NewOpenAISynthesizer(client, cfg.Speech.TTSModel, cfg.Speech.DefaultVoice, sink)
	}
	return gw
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), observe.GinMiddleware(s.metrics), s.corsMiddleware())

	engine.GET("/healthz", s.handleHealthz)
	if s.config.Observability.Metrics {
		engine.GET("/metrics", gin.WrapH(observe.Handler()))
	}

	api := engine.Group("/api")
	api.GET("/scenarios", s.handleScenarios)
	api.POST("/feedback", s.handleFeedback)
	api.GET("/sessions", s.handleListSessions)
	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions/:id", s.handleGetSession)
	api.DELETE("/sessions/:id", s.handleDeleteSession)
	api.POST("/sessions/:id/messages", s.handleSubmit)
	api.POST("/sessions/:id/suggestions/:index", s.handleUseSuggestion)
	api.POST("/sessions/:id/restart", s.handleRestart)
	api.GET("/sessions/:id/timeline", s.handleTimeline)
	api.GET("/sessions/:id/stream", s.handleSessionStream)
	return engine
}

// Close 断开所有网关（服务关闭时调用）
func (s *Server) Close() {
	s.gatewaysMu.Lock()
	gateways := make([]*gateway.Gateway, 0, len(s.gateways))
	for _, gw := range s.gateways {
		gateways = append(gateways, gw)
	}
	s.gatewaysMu.Unlock()

	for _, gw := range gateways {
		_ = gw.Close()
	}
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type scenarioView struct {
	model.Scenario
	Checkpoints []string `json:"checkpoints"`
}

func (s *Server) handleScenarios(c *gin.Context) {
	catalog := s.manager.Catalog()
	scenarios := catalog.Scenarios()
	out := make([]scenarioView, 0, len(scenarios))
	for _, sc := range scenarios {
		view := scenarioView{Scenario: sc}
		if set, err := catalog.NewCheckpointSet(sc.ID); err == nil {
			for _, cp := range set {
				view.Checkpoints = append(view.Checkpoints, cp.Description)
			}
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"scenarios": out, "categories": catalog.Categories()})
}

type textRequest struct {
	Text string `json:"text"`
}

// handleFeedback 只做语言分析，不属于任何会话
func (s *Server) handleFeedback(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"feedback": s.analyzer.Analyze(req.Text),
		"issues":   s.analyzer.Inspect(req.Text),
	})
}

func (s *Server) handleListSessions(c *gin.Context) {
	list, err := s.store.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

type createSessionRequest struct {
	ScenarioID string `json:"scenario_id"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ScenarioID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scenario_id required"})
		return
	}

	orch, err := s.manager.Create(c.Request.Context(), req.ScenarioID)
	if err != nil {
		writeError(c, err)
		return
	}
	state := orch.Snapshot()
	c.JSON(http.StatusCreated, model.CreateSessionResponse{
		SessionID: state.SessionID,
		Scenario:  orch.Scenario(),
		State:     state,
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	orch, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": orch.Snapshot(), "status": orch.State()})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	s.gatewaysMu.Lock()
	gw := s.gateways[id]
	s.gatewaysMu.Unlock()
	if gw != nil {
		_ = gw.Close()
	}
	if err := s.manager.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSubmit(c *gin.Context) {
	orch, ok := s.session(c)
	if !ok {
		return
	}
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := orch.Submit(c.Request.Context(), req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleUseSuggestion(c *gin.Context) {
	orch, ok := s.session(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a number"})
		return
	}
	res, err := orch.UseSuggestion(c.Request.Context(), index)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleRestart(c *gin.Context) {
	orch, ok := s.session(c)
	if !ok {
		return
	}
	state, err := orch.Restart(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

// handleTimeline ?after=N 只返回 seq 大于 N 的事件
func (s *Server) handleTimeline(c *gin.Context) {
	if _, ok := s.session(c); !ok {
		return
	}
	var after int64
	if v := c.Query("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after must be a non-negative number"})
			return
		}
		after = n
	}
	events, err := s.timeline.ListSince(c.Request.Context(), c.Param("id"), after)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// handleSessionStream 升级为 WebSocket 并把连接交给网关，阻塞到连接关闭
func (s *Server) handleSessionStream(c *gin.Context) {
	orch, ok := s.session(c)
	if !ok {
		return
	}
	sessionID := orch.SessionID()
	log.Printf("[API] 📞 WebSocket connection request: session=%s remote=%s", sessionID, c.Request.RemoteAddr)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[API] ❌ Failed to upgrade websocket: %v", err)
		return
	}

	gw := gateway.New(orch, conn, s.gwConfig)

	s.gatewaysMu.Lock()
	previous := s.gateways[sessionID]
	s.gateways[sessionID] = gw
	s.gatewaysMu.Unlock()
	if previous != nil {
		log.Printf("[API] ⚠️ session=%s replaced by a new connection", sessionID)
		_ = previous.Close()
	}

	defer func() {
		s.gatewaysMu.Lock()
		if s.gateways[sessionID] == gw {
			delete(s.gateways, sessionID)
		}
		s.gatewaysMu.Unlock()
		_ = gw.Close()
		log.Printf("[API] 🔌 Gateway closed for session %s", sessionID)
	}()

	if err := gw.Start(); err != nil {
		log.Printf("[API] ❌ Failed to start gateway: %v", err)
		return
	}
	<-gw.Done()
}

// session 查找会话，不存在时直接写 404
func (s *Server) session(c *gin.Context) (*orchestrator.Orchestrator, bool) {
	orch, err := s.manager.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return orch, true
}

// writeError 把领域错误映射为 HTTP 状态码
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrUnknownScenario), errors.Is(err, orchestrator.ErrNoSuggestion):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrBlankInput):
		status = http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrBusy), errors.Is(err, orchestrator.ErrNotBlocked):
		status = http.StatusConflict
	case errors.Is(err, orchestrator.ErrTooManySessions):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Printf("[API] ❌ %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.config.Server.AllowedOrigins, origin)
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
