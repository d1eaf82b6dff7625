package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dtroode/electorate-server/internal/api/http/router"
	httpServer "github.com/dtroode/electorate-server/internal/api/http/server"
	"github.com/dtroode/electorate-server/internal/config"
	"github.com/dtroode/electorate-server/internal/logger"
	"github.com/dtroode/electorate-server/internal/metrics"
	"github.com/dtroode/electorate-server/internal/model"
	"github.com/dtroode/electorate-server/internal/policy"
	"github.com/dtroode/electorate-server/internal/repository/file"
	"github.com/dtroode/electorate-server/internal/server"
	"github.com/dtroode/electorate-server/internal/service"
	"github.com/dtroode/electorate-server/internal/token"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	logger := logger.New(cfg.LogLevel)

	pol := policy.Default()
	if cfg.Policy.File != "" {
		pol, err = policy.Load(cfg.Policy.File)
		if err != nil {
			logger.Fatal("failed to load policy", "error", err, "file", cfg.Policy.File)
		}
	}

	identityRepo := file.NewIdentityRepository(cfg.Data.Dir)
	electionRepo := file.NewElectionRepository(cfg.Data.Dir)

	identityService, err := service.NewIdentity(ctx, identityRepo, pol, logger)
	if err != nil {
		logger.Fatal("failed to initialize identity registry", "error", err)
	}

	m := metrics.New()

	electionService, err := service.NewElection(ctx, electionRepo, identityService, m, logger)
	if err != nil {
		logger.Fatal("failed to initialize election store", "error", err)
	}

	tokenManager := token.NewJWT(cfg.JWT.Secret)

	r := router.New(identityService, electionService, tokenManager, m, cfg.DeviceTTL, logger)
	srv := httpServer.NewHTTPServer(r.Register(), fmt.Sprintf(":%s", cfg.HTTP.Port))

	var sl model.SecurityLayer

	if cfg.HTTP.EnableHTTPS {
		sl = server.NewTLSListener(cfg.HTTP.CertFileName, cfg.HTTP.PrivateKeyFileName)
	} else {
		sl = server.NewPlainListener()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func(s model.Server) {
		defer wg.Done()
		logger.Info("Starting server on", "address", s.Address())
		err := s.Start(sl)
		if err != nil {
			logger.Error("failed to start server", "error", err)
		}
	}(srv)

	logAppVersion()

	<-ctx.Done()
	logger.Info("received interruption signal, shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", "error", err, "address", srv.Address())
	}

	wg.Wait()
	logger.Info("shutdown complete")
}

func logAppVersion() {
	tmpl := `
Build version: %s
Build date: %s
Build commit: %s
`

	fmt.Printf(tmpl, buildVersion, buildDate, buildCommit)
}
