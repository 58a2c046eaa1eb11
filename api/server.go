package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Aidin1998/lotmarket/api/responses"
	"github.com/Aidin1998/lotmarket/internal/auth"
	"github.com/Aidin1998/lotmarket/internal/events"
	"github.com/Aidin1998/lotmarket/internal/marketplace"
	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/Aidin1998/lotmarket/pkg/validation"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Request headers carrying the caller's authorization.
const (
	HeaderIdentity  = "X-Market-Identity"
	HeaderSignature = "X-Market-Signature"
	HeaderNonce     = "X-Market-Nonce"
	HeaderRequestID = "X-Request-ID"
)

// Minter funds holders out of thin air. Only development ledgers offer it.
type Minter interface {
	Mint(ctx context.Context, asset models.AssetID, holder models.Identity, amount decimal.Decimal) error
}

// Options configure optional parts of the server.
type Options struct {
	CORSOrigins []string
	// Hub serves /api/v1/events/ws when set.
	Hub *events.Hub
	// Minter enables POST /api/v1/dev/mint when set.
	Minter      Minter
	ServiceName string
}

// Server represents the API server
type Server struct {
	router *gin.Engine
	logger *zap.Logger
	market *marketplace.Service
	hub    *events.Hub
	minter Minter
}

// NewServer creates the API server around a marketplace service.
func NewServer(logger *zap.Logger, market *marketplace.Service, opts Options) *Server {
	if opts.ServiceName == "" {
		opts.ServiceName = "marketd"
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	server := &Server{
		logger: logger,
		market: market,
		hub:    opts.Hub,
		minter: opts.Minter,
	}

	if err := validation.RegisterGin(); err != nil {
		logger.Warn("custom validators unavailable", zap.Error(err))
	}

	router := gin.New()
	router.Use(requestID())
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware(opts.ServiceName))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     opts.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", HeaderIdentity, HeaderSignature, HeaderNonce},
		ExposeHeaders:    []string{"Content-Length", HeaderRequestID},
		AllowCredentials: !containsWildcard(opts.CORSOrigins),
		MaxAge:           12 * time.Hour,
	}))

	server.router = router
	server.registerRoutes()
	return server
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.healthCheck)

		market := v1.Group("/marketplace")
		{
			market.POST("/init", s.initialize)
			market.GET("/config", s.getConfig)
		}

		listings := v1.Group("/listings")
		{
			listings.GET("", s.listListings)
			listings.GET("/:id", s.getListing)
			listings.POST("", s.authorization(), s.createListing)
			listings.PATCH("/:id/price", s.authorization(), s.updatePrice)
			listings.POST("/:id/pause", s.authorization(), s.pauseListing)
			listings.POST("/:id/unpause", s.authorization(), s.unpauseListing)
			listings.POST("/:id/buy", s.authorization(), s.buyListing)
			listings.DELETE("/:id", s.authorization(), s.removeListing)
		}

		v1.GET("/balances/:asset/:holder", s.getBalance)

		if s.hub != nil {
			v1.GET("/events/ws", s.streamEvents)
		}
		if s.minter != nil {
			v1.POST("/dev/mint", s.mint)
		}
	}
}

// requestID tags every request with an id, reusing the caller's when given.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(responses.TraceKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

const authzKey = "authorization"

// authorization collects the caller's identity and proof. Verification
// happens inside the marketplace, against the exact call being made.
func (s *Server) authorization() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := strings.TrimSpace(c.GetHeader(HeaderIdentity))
		if identity == "" {
			responses.Unauthorized(c, HeaderIdentity+" header required")
			return
		}
		authz := auth.Authorization{
			Identity: models.Identity(identity),
			Nonce:    c.GetHeader(HeaderNonce),
		}
		if sig := c.GetHeader(HeaderSignature); sig != "" {
			authz.Proof = sig
		} else if h := c.GetHeader("Authorization"); h != "" {
			token, ok := strings.CutPrefix(h, "Bearer ")
			if !ok {
				responses.Unauthorized(c, "Invalid authorization format")
				return
			}
			authz.Proof = token
		}
		c.Set(authzKey, authz)
		c.Next()
	}
}

func authorizationFrom(c *gin.Context) auth.Authorization {
	v, _ := c.Get(authzKey)
	authz, _ := v.(auth.Authorization)
	return authz
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"time":    time.Now(),
		"address": s.market.Address(),
	})
}
