package webhook

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lenslabs/lenslink-go/lenslink"
)

// Request is the webhook payload the cloud delivers when a user starts or
// stops the app.
type Request struct {
	Type         string `json:"type" binding:"required"`
	SessionID    string `json:"sessionId"`
	UserID       string `json:"userId"`
	Reason       string `json:"reason,omitempty"`
	WebSocketURL string `json:"websocketUrl,omitempty"`
}

// Webhook request types.
const (
	RequestSessionStart = "session_request"
	RequestSessionStop  = "stop_request"
)

// Server receives session webhooks from the cloud and owns one Session per
// active user session.
type Server struct {
	config *Config
	logger *zap.Logger
	engine *gin.Engine

	lock      sync.Mutex
	sessions  map[string]*lenslink.Session
	appConfig *lenslink.AppConfig
}

// NewServer builds a webhook server from the configuration. When the
// configuration names an app config file it is loaded once and shared by
// every session.
func NewServer(cfg *Config, logger *zap.Logger) (*Server, error) {
	var appConfig *lenslink.AppConfig
	if cfg.App.ConfigPath != "" {
		loaded, err := lenslink.LoadAppConfig(cfg.App.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load app config: %w", err)
		}
		appConfig = loaded
	}

	server := &Server{
		config:    cfg,
		logger:    logger,
		sessions:  make(map[string]*lenslink.Session),
		appConfig: appConfig,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.POST("/webhook", server.handleWebhook)
	engine.GET("/health", server.handleHealth)
	server.engine = engine

	return server, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (server *Server) Handler() http.Handler { return server.engine }

// Count reports the number of active sessions.
func (server *Server) Count() int {
	server.lock.Lock()
	defer server.lock.Unlock()
	return len(server.sessions)
}

// Session returns the session registered under the given id, if any.
func (server *Server) Session(sessionID string) (*lenslink.Session, bool) {
	server.lock.Lock()
	defer server.lock.Unlock()
	session, ok := server.sessions[sessionID]
	return session, ok
}

// Run serves webhooks on the configured address until the listener fails.
func (server *Server) Run() error {
	address := fmt.Sprintf("%s:%d", server.config.Server.Host, server.config.Server.Port)
	server.logger.Info("webhook server listening", zap.String("address", address))
	return server.engine.Run(address)
}

// Shutdown disconnects and forgets every active session.
func (server *Server) Shutdown() {
	server.lock.Lock()
	sessions := server.sessions
	server.sessions = make(map[string]*lenslink.Session)
	server.lock.Unlock()

	for id, session := range sessions {
		if err := session.Disconnect(); err != nil {
			server.logger.Warn("disconnect during shutdown failed",
				zap.String("sessionId", id), zap.Error(err))
		}
	}
}

func (server *Server) handleWebhook(c *gin.Context) {
	var request Request
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch request.Type {
	case RequestSessionStart:
		server.handleSessionStart(c, request)
	case RequestSessionStop:
		server.handleSessionStop(c, request)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown request type %q", request.Type)})
	}
}

func (server *Server) handleSessionStart(c *gin.Context, request Request) {
	sessionID := request.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	endpoint := server.config.App.EndpointURL
	if request.WebSocketURL != "" {
		endpoint = request.WebSocketURL
	}

	session := lenslink.NewSession(lenslink.SessionConfig{
		PackageName:          server.config.App.PackageName,
		APIKey:               server.config.App.APIKey,
		EndpointURL:          endpoint,
		AppConfig:            server.appConfig,
		AutoReconnect:        server.config.App.AutoReconnect,
		MaxReconnectAttempts: server.config.App.MaxReconnectAttempts,
		ReconnectDelay:       server.config.App.ReconnectDelay,
		ConnectTimeout:       server.config.App.ConnectTimeout,
		Logger:               server.logger.With(zap.String("sessionId", sessionID)),
	})
	server.observeSession(sessionID, session)

	// A restart for an id we already track replaces the old session.
	server.lock.Lock()
	previous := server.sessions[sessionID]
	delete(server.sessions, sessionID)
	server.lock.Unlock()
	if previous != nil {
		_ = previous.Disconnect()
	}

	if err := session.Connect(c.Request.Context(), sessionID); err != nil {
		server.logger.Error("session connect failed",
			zap.String("sessionId", sessionID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	server.lock.Lock()
	server.sessions[sessionID] = session
	server.lock.Unlock()

	server.logger.Info("session started",
		zap.String("sessionId", sessionID), zap.String("userId", request.UserID))
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessionId": sessionID})
}

func (server *Server) handleSessionStop(c *gin.Context, request Request) {
	server.lock.Lock()
	session, ok := server.sessions[request.SessionID]
	delete(server.sessions, request.SessionID)
	server.lock.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no session %q", request.SessionID)})
		return
	}

	if err := session.Disconnect(); err != nil {
		server.logger.Warn("session disconnect failed",
			zap.String("sessionId", request.SessionID), zap.Error(err))
	}
	server.logger.Info("session stopped",
		zap.String("sessionId", request.SessionID), zap.String("reason", request.Reason))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (server *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": server.Count()})
}

// observeSession wires baseline logging handlers so every session reports its
// lifecycle even before app code registers its own.
func (server *Server) observeSession(sessionID string, session *lenslink.Session) {
	logger := server.logger.With(zap.String("sessionId", sessionID))
	session.OnConnected(func(settings []lenslink.Setting) {
		logger.Info("session connected", zap.Int("settings", len(settings)))
	})
	session.OnDisconnected(func(reason string) {
		logger.Warn("session disconnected", zap.String("reason", reason))
	})
	session.OnError(func(err error) {
		logger.Error("session error", zap.Error(err))
	})
	session.OnReconnectExhausted(func(attempts uint32) {
		logger.Error("session gave up reconnecting", zap.Uint32("attempts", attempts))
		server.lock.Lock()
		if server.sessions[sessionID] == session {
			delete(server.sessions, sessionID)
		}
		server.lock.Unlock()
	})
}
