// Package server assembles the HTTP and gRPC surfaces over the account and notification services.
package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	accountsvc "social-notify/backend/internal/account/service"
	"social-notify/backend/internal/health"
	healthhandler "social-notify/backend/internal/health/handler"
	"social-notify/backend/internal/notification/domain"
	notifysvc "social-notify/backend/internal/notification/service"
	"social-notify/backend/internal/security"
	"social-notify/backend/internal/server/middleware"
	"social-notify/backend/internal/transport/ws"
)

// Deps holds the services and settings behind the HTTP routes.
type Deps struct {
	Accounts      *accountsvc.Service
	Notifications *notifysvc.Service
	Tokens        *security.TokenCodec
	// Health backs /readyz. If nil, readiness always succeeds.
	Health *health.Checker
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	// Limiter guards /auth/* and /ws when set.
	Limiter        *middleware.RateLimiter
	AllowedOrigins []string
	WS             ws.Options
	Logger         *zap.Logger
}

type handlers struct {
	accounts      *accountsvc.Service
	notifications *notifysvc.Service
	tokens        *security.TokenCodec
	upgrader      *websocket.Upgrader
	wsOpts        ws.Options
	log           *zap.Logger
}

// NewRouter returns the gin engine serving every HTTP route.
func NewRouter(deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{
		accounts:      deps.Accounts,
		notifications: deps.Notifications,
		tokens:        deps.Tokens,
		upgrader:      ws.NewUpgrader(deps.AllowedOrigins),
		wsOpts:        deps.WS,
		log:           logger.Named("http"),
	}

	r := gin.New()
	r.Use(middleware.Recovery(logger), middleware.RequestLogger(logger))
	r.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	var limited gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if deps.Limiter != nil {
		limited = deps.Limiter.Middleware()
	}

	auth := r.Group("/auth", limited)
	{
		auth.POST("/register", h.register)
		auth.POST("/login", h.login)
	}

	api := r.Group("/api/v1", middleware.RequireBearer(deps.Tokens))
	{
		api.GET("/me", h.me)
		api.POST("/notifications", h.createNotification)
		api.GET("/notifications", h.listNotifications)
	}

	r.GET("/ws", limited, h.connect)
	r.GET("/healthz", healthhandler.Liveness)
	r.GET("/readyz", healthhandler.Readiness(deps.Health))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Authorization", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

type credentials struct {
	Email    string `json:"email" form:"email"`
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// login returns the handle to authenticate with: the email when given, else the username.
func (cr credentials) login() string {
	if cr.Email != "" {
		return cr.Email
	}
	return cr.Username
}

type accountResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (h *handlers) register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBind(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	acct, err := h.accounts.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, accountResponse{ID: acct.ID, Username: acct.Username, Email: acct.Email})
}

// login accepts a JSON body or an OAuth2-style password form; the username field may carry
// either the account username or its email.
func (h *handlers) login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBind(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	token, expiresAt, err := h.accounts.Login(c.Request.Context(), req.login(), req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"expires_at":   expiresAt.UTC(),
	})
}

// me returns the account behind the bearer token. A valid token whose account no longer
// exists yields 404.
func (h *handlers) me(c *gin.Context) {
	identity, _ := middleware.Identity(c)
	acct, err := h.accounts.Lookup(c.Request.Context(), identity)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, accountResponse{ID: acct.ID, Username: acct.Username, Email: acct.Email})
}

type notificationRequest struct {
	Recipient string `json:"recipient" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

type notificationResponse struct {
	domain.Envelope
	Recipient string `json:"recipient"`
	Delivered bool   `json:"delivered"`
}

func (h *handlers) createNotification(c *gin.Context) {
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "recipient and message are required"})
		return
	}
	rec, err := h.notifications.Notify(c.Request.Context(), req.Recipient, req.Message)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, notificationResponse{
		Envelope:  rec.Envelope(),
		Recipient: rec.Recipient,
		Delivered: rec.Delivered,
	})
}

func (h *handlers) listNotifications(c *gin.Context) {
	identity, _ := middleware.Identity(c)
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}
	records, err := h.notifications.List(c.Request.Context(), identity, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]domain.Envelope, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Envelope())
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out})
}

// connect upgrades to a WebSocket and hands the connection to the notification service.
// Token failures are reported with a close code after the upgrade so browser clients can see them.
func (h *handlers) connect(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = middleware.ExtractBearer(c.GetHeader("Authorization"))
	}
	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Debug("websocket upgrade", zap.Error(err))
		return
	}
	conn := ws.New(raw, h.wsOpts, h.log)
	reg, err := h.notifications.Connect(c.Request.Context(), token, conn)
	if err != nil {
		h.log.Info("websocket refused", zap.Error(err))
		return
	}
	h.log.Debug("websocket connected", zap.String("identity", reg.Identity), zap.String("registration_id", reg.ID))
}
