// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	internal_callcontext "github.com/rapidaai/voicegateway/api/gateway-api/internal/callcontext"
	internal_callstate "github.com/rapidaai/voicegateway/api/gateway-api/internal/callstate"
	internal_gateway "github.com/rapidaai/voicegateway/api/gateway-api/internal/gateway"
	internal_telephony "github.com/rapidaai/voicegateway/api/gateway-api/internal/telephony"
	internal_acs_telephony "github.com/rapidaai/voicegateway/api/gateway-api/internal/telephony/acs"
	internal_twilio_telephony "github.com/rapidaai/voicegateway/api/gateway-api/internal/telephony/twilio"
	internal_vonage_telephony "github.com/rapidaai/voicegateway/api/gateway-api/internal/telephony/vonage"
	gateway_routers "github.com/rapidaai/voicegateway/api/gateway-api/router"
	"github.com/rapidaai/voicegateway/config"
	"github.com/rapidaai/voicegateway/pkg/commons"
	"github.com/rapidaai/voicegateway/pkg/connectors"
	"github.com/rapidaai/voicegateway/pkg/utils"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	v, err := config.InitConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	cfg, err := config.GetApplicationConfig(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	logger := commons.NewApplicationLogger(cfg.Name, cfg.LogLevel, cfg.LogFile)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	postgres, err := connectors.NewPostgresConnector(cfg.PostgresConfig, logger)
	if err != nil {
		logger.Errorf("failed to connect postgres: %v", err)
		return 1
	}
	defer func() { _ = postgres.Close() }()

	// Redis only backs the query cache; a dead instance degrades to
	// uncached reads instead of blocking calls.
	redis, err := connectors.NewRedisConnector(cfg.RedisConfig, logger)
	if err != nil {
		logger.Warnf("redis unavailable, running without query cache: %v", err)
		redis = nil
	} else {
		defer func() { _ = redis.Close() }()
	}

	store, err := internal_callcontext.NewStore(postgres, redis, logger)
	if err != nil {
		logger.Errorf("failed to initialize call context store: %v", err)
		return 1
	}

	provider, err := telephonyProvider(cfg, logger)
	if err != nil {
		logger.Errorf("failed to initialize telephony provider: %v", err)
		return 1
	}

	hub := internal_gateway.NewHub(logger, cfg, provider)
	utils.Go(ctx, func() {
		hub.Run(ctx)
	})

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
	}))

	gateway_routers.HealthCheckRoutes(cfg, engine, logger, postgres)
	gateway_routers.CallApiRoute(cfg, engine, logger, store, provider, hub)
	gateway_routers.MediaApiRoute(cfg, engine, logger, store, hub)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}

	serverErr := make(chan error, 1)
	utils.Go(ctx, func() {
		logger.Infow("voice gateway listening",
			"addr", server.Addr,
			"provider", provider.Name(),
			"sampleRateHz", cfg.MediaSampleRate,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	})

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Errorf("http server failed: %v", err)
		return 1
	}

	// Hang up in-flight calls so providers see a clean end instead of a dead
	// websocket.
	hub.EndAll(internal_callstate.EndReasonHangup)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("graceful shutdown failed: %v", err)
		return 1
	}
	logger.Info("voice gateway stopped")
	return 0
}

// telephonyProvider builds the outbound calling client named by
// telephony_provider. The zero provider keeps receive-only and mock-tone
// deployments bootable without provider credentials.
func telephonyProvider(cfg *config.AppConfig, logger commons.Logger) (internal_telephony.Provider, error) {
	switch cfg.TelephonyProvider {
	case "acs":
		p, err := internal_acs_telephony.NewAcs(logger, cfg.AcsConfig)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "twilio":
		p, err := internal_twilio_telephony.NewTwilio(logger, cfg.TwilioConfig)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "vonage":
		p, err := internal_vonage_telephony.NewVonage(logger, cfg.VonageConfig)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return internal_telephony.Disabled{}, nil
	}
}
