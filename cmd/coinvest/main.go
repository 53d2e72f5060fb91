// Command coinvest runs the asynchronous investment service: the HTTP
// API, the settlement engine and the Kafka oracle feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Aidin1998/coinvest_unified/internal/admin"
	"github.com/Aidin1998/coinvest_unified/internal/assets"
	"github.com/Aidin1998/coinvest_unified/internal/config"
	"github.com/Aidin1998/coinvest_unified/internal/custody"
	"github.com/Aidin1998/coinvest_unified/internal/engine"
	"github.com/Aidin1998/coinvest_unified/internal/fees"
	"github.com/Aidin1998/coinvest_unified/internal/ledger"
	"github.com/Aidin1998/coinvest_unified/internal/migration"
	"github.com/Aidin1998/coinvest_unified/internal/oracle"
	"github.com/Aidin1998/coinvest_unified/internal/pubsub"
	"github.com/Aidin1998/coinvest_unified/internal/server"
	"github.com/Aidin1998/coinvest_unified/internal/tokens"
	"github.com/Aidin1998/coinvest_unified/pkg/logger"
	"github.com/Aidin1998/coinvest_unified/pkg/models"
)

const (
	coinToken       = "COIN"
	cashToken       = "CASH"
	legacyCoinToken = "COIN_V1"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	capability, feeRecipient := adminIdentities(cfg, log)
	adminCfg := admin.NewConfig(capability, feeRecipient, log)
	if err := adminCfg.SetGasPrice(capability, cfg.Oracle.GasPrice); err != nil {
		return err
	}

	tokenSvc := tokens.NewService(db, log)
	registry := assets.NewRegistry(db, adminCfg, log)
	if err := registry.Seed(context.Background()); err != nil {
		return err
	}

	feePolicy := fees.NewPolicy(db, adminCfg, cfg.Fees.BasisPoints, log)
	ledgerSvc := ledger.NewService(db, adminCfg, tokenSvc, log)
	custodySvc := custody.NewService(db, adminCfg, tokenSvc, coinToken, cashToken, log)
	oracleClient := oracle.NewClient(registry, cfg.Oracle.BaseURL)

	feed := oracle.NewFeed(oracle.FeedConfig{
		Brokers:       cfg.Kafka.Brokers,
		RequestTopic:  cfg.Kafka.RequestTopic,
		ResponseTopic: cfg.Kafka.ResponseTopic,
		GroupID:       cfg.Kafka.GroupID,
		WriteTimeout:  time.Second,
	}, log)
	defer feed.Close()

	var events engine.EventPublisher = pubsub.NoopBackend{}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		events = pubsub.NewRedisBackend(client)
	}

	eng := engine.New(db, adminCfg, oracleClient, feePolicy, ledgerSvc, custodySvc, tokenSvc, feed, events, log)
	if err := ledgerSvc.ChangeSettlementEngine(capability, eng.ID()); err != nil {
		return err
	}
	if err := custodySvc.ChangeSettlementEngine(capability, eng.ID()); err != nil {
		return err
	}

	swap := migration.NewFacility(db, tokenSvc, legacyCoinToken, coinToken, log)

	srv := server.New(cfg.Server.Addr, db, adminCfg, registry, eng, ledgerSvc, custodySvc, feePolicy, tokenSvc, swap, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := feed.Run(ctx, eng.HandlePriceResponse); err != nil && ctx.Err() == nil {
			log.Error("oracle feed stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := srv.Run(); err != nil {
			log.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch cfg.Driver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// adminIdentities resolves the capability and fee recipient, generating
// and logging fresh ones when unconfigured so a development instance
// remains administrable.
func adminIdentities(cfg *config.Config, log *zap.Logger) (uuid.UUID, uuid.UUID) {
	capability := uuid.New()
	if cfg.Admin.Capability != "" {
		capability = uuid.MustParse(cfg.Admin.Capability)
	} else {
		log.Warn("admin capability generated", zap.String("capability", capability.String()))
	}
	feeRecipient := uuid.New()
	if cfg.Fees.Recipient != "" {
		feeRecipient = uuid.MustParse(cfg.Fees.Recipient)
	} else {
		log.Warn("fee recipient generated", zap.String("recipient", feeRecipient.String()))
	}
	return capability, feeRecipient
}
