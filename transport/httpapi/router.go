package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Options configures a Handler.
type Options struct {
	// FrontendURL is where the device action links redirect.
	FrontendURL string
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
	Logger  *slog.Logger
	// Ready reports dependency health for /healthz. Nil means always ready.
	Ready func() error
}

type Handler struct {
	svc         Service
	log         *slog.Logger
	frontendURL string
	metrics     http.Handler
	ready       func() error
}

func NewHandler(svc Service, opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		svc:         svc,
		log:         log.With("component", "httpapi"),
		frontendURL: opts.FrontendURL,
		metrics:     opts.Metrics,
		ready:       opts.Ready,
	}
}

// Router builds the gin engine with every route mounted.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestMetadata())

	r.GET("/healthz", h.health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := r.Group("/api/v1")
	h.Register(api)
	return r
}

// Register mounts the API routes on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	public := g.Group("")
	{
		public.POST("/auth/login", h.login)
		public.POST("/auth/refresh", h.refresh)
		public.GET("/devices/action/trust", h.deviceAction)
		public.GET("/devices/action/revoke", h.deviceAction)
		public.POST("/webauthn/login/start", h.webauthnLoginStart)
		public.POST("/webauthn/login/finish", h.webauthnLoginFinish)
	}

	auth := g.Group("")
	auth.Use(h.RequireAuth)
	{
		auth.POST("/auth/logout", h.logout)

		auth.GET("/auth/2fa/status", h.twoFactorStatus)
		auth.POST("/auth/2fa/setup", h.twoFactorSetup)
		auth.POST("/auth/2fa/verify-setup", h.twoFactorVerifySetup)
		auth.POST("/auth/2fa/disable", h.twoFactorDisable)
		auth.POST("/auth/2fa/recovery-codes", h.twoFactorRegenerate)

		auth.GET("/devices", h.listDevices)
		auth.POST("/devices/:id/trust", h.trustDevice)
		auth.DELETE("/devices/:id", h.revokeDevice)

		auth.POST("/webauthn/register/start", h.webauthnRegisterStart)
		auth.POST("/webauthn/register/finish", h.webauthnRegisterFinish)
		auth.GET("/webauthn/credentials", h.listCredentials)
		auth.DELETE("/webauthn/credentials/:id", h.deleteCredential)
	}
}

func (h *Handler) health(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(); err != nil {
			h.log.Warn("health check failed", slog.Any("err", err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
