// Package server exposes the investment services over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/coinvest_unified/internal/admin"
	"github.com/Aidin1998/coinvest_unified/internal/assets"
	"github.com/Aidin1998/coinvest_unified/internal/custody"
	"github.com/Aidin1998/coinvest_unified/internal/engine"
	"github.com/Aidin1998/coinvest_unified/internal/fees"
	"github.com/Aidin1998/coinvest_unified/internal/ledger"
	"github.com/Aidin1998/coinvest_unified/internal/migration"
	"github.com/Aidin1998/coinvest_unified/internal/tokens"
)

// Server wires the HTTP routes to the investment services.
type Server struct {
	db        *gorm.DB
	logger    *zap.Logger
	admin     *admin.Config
	registry  *assets.Registry
	engine    *engine.Engine
	ledger    *ledger.Service
	custody   *custody.Service
	fees      *fees.Policy
	tokens    *tokens.Service
	migration *migration.Facility

	http *http.Server
}

// New assembles the server over the given services. The migration
// facility may be nil when the legacy swap is not deployed.
func New(
	addr string,
	db *gorm.DB,
	adminCfg *admin.Config,
	registry *assets.Registry,
	eng *engine.Engine,
	ledgerSvc *ledger.Service,
	custodySvc *custody.Service,
	feePolicy *fees.Policy,
	tokenSvc *tokens.Service,
	swap *migration.Facility,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		db:        db,
		logger:    logger,
		admin:     adminCfg,
		registry:  registry,
		engine:    eng,
		ledger:    ledgerSvc,
		custody:   custodySvc,
		fees:      feePolicy,
		tokens:    tokenSvc,
		migration: swap,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(s.logger, true))

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/assets", s.handleListAssets)

		v1.POST("/orders/buy", s.handleBuy)
		v1.POST("/orders/sell", s.handleSell)
		v1.GET("/orders/:id", s.handleGetOrder)

		v1.POST("/oracle/callback", s.handleOracleCallback)

		v1.GET("/holdings/:user", s.handleHoldings)
		v1.GET("/holdings/:user/:asset", s.handleHolding)
		v1.GET("/free-trades/:user", s.handleFreeTrades)

		v1.POST("/delegations", s.handleDelegate)
		v1.DELETE("/delegations/:delegate", s.handleRevokeDelegate)

		v1.POST("/tokens/approve", s.handleApprove)
		v1.GET("/tokens/:token/balance/:holder", s.handleTokenBalance)

		if s.migration != nil {
			v1.POST("/migration/swap", s.handleSwap)
		}

		adm := v1.Group("/admin")
		{
			adm.POST("/assets", s.handleAddAsset)
			adm.POST("/free-trades", s.handleGrantFreeTrades)
			adm.POST("/fee-recipient", s.handleSetFeeRecipient)
			adm.POST("/gas-price", s.handleSetGasPrice)
			adm.POST("/escape", s.handleTokenEscape)
		}
	}
	return r
}

// Run serves HTTP until the listener fails.
func (s *Server) Run() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
