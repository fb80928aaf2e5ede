package main

import (
	"context"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"

	"agentdesk/internal/core/domain"
	"agentdesk/internal/core/services"
	"agentdesk/internal/infrastructure/media"
	"agentdesk/internal/infrastructure/monitoring"
	"agentdesk/internal/infrastructure/ops"
	"agentdesk/internal/infrastructure/presence"
	"agentdesk/internal/infrastructure/signal"
	rtc "agentdesk/internal/infrastructure/webrtc"
	"agentdesk/pkg/config"
	"agentdesk/pkg/logger"
	"agentdesk/pkg/retry"
	"agentdesk/pkg/tracing"

	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		if cfg, err = config.Load(path); err == nil {
			break
		}
	}
	if err != nil {
		log.Fatalf("could not load config: %v", err)
	}

	zl := logger.New(cfg.Logging.Level)
	defer zl.Sync()
	sugar := zl.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "agentdesk",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		sugar.Fatalw("initializing tracing", "error", err)
	}

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)

	creds := services.NewCredentials(cfg.Auth.JWTSecret)

	mediaSource := media.NewSource(func() media.CaptureProvider {
		return media.NewSilenceProvider(cfg.Media.FrameDuration, cfg.Media.SampleRate)
	}, cfg.Media.SampleRate, sugar)

	dialer := signal.NewDialer(signal.DialerConfig{
		BaseURL:      cfg.Signaling.BaseURL,
		PingInterval: cfg.Signaling.PingInterval,
		PongTimeout:  cfg.Signaling.PongTimeout,
		WriteTimeout: cfg.Signaling.WriteTimeout,
	}, sugar)

	engineConfig := rtc.Config{}
	for _, server := range cfg.WebRTC.ICEServers {
		ice := webrtc.ICEServer{URLs: server.URLs}
		if server.Username != "" {
			ice.Username = server.Username
			ice.Credential = server.Credential
		}
		engineConfig.ICEServers = append(engineConfig.ICEServers, ice)
	}
	engineConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
	engineConfig.PortRange.Max = cfg.WebRTC.PortRange.Max
	engines := rtc.NewFactory(engineConfig, metrics, sugar)

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Presence.RetryAttempts
	syncClient := presence.NewClient(presence.Config{
		Endpoint:       cfg.Presence.Endpoint,
		RequestTimeout: cfg.Presence.RequestTimeout,
		RatePerSecond:  cfg.Presence.RatePerSecond,
		Burst:          cfg.Presence.Burst,
		Retry:          retryCfg,
	}, creds, sugar)
	syncClient.OnError(metrics.ObservePresenceSyncFailure)

	machine := services.NewPresenceMachine(syncClient, sugar)
	machine.OnTransition(metrics.ObservePresence)

	coordinator := services.NewCoordinator(mediaSource, dialer, engines, creds, machine, sugar)

	opsServer := ops.NewServer(coordinator, machine, registry, sugar)

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coordinator.OnEvent(func(event domain.SessionEvent) {
		metrics.ObserveSessionEvent(event)
		if err := machine.HandleSessionEvent(ctx, event); err != nil {
			sugar.Warnw("presence rejected session event", "event", event, "error", err)
		}
	})
	machine.OnSignOut(func() {
		coordinator.StopCall(context.Background())
	})
	creds.OnExpiry(func() {
		sugar.Warn("agent credential expired, signing out")
		machine.SignOut(context.Background())
	})

	go func() {
		if err := opsServer.Run(cfg.Ops.Address); err != nil {
			sugar.Errorw("ops server failed", "error", err)
		}
	}()

	if token := os.Getenv("AGENTDESK_TOKEN"); token != "" {
		if err := creds.SetToken(token); err != nil {
			sugar.Warnw("rejecting provided agent token", "error", err)
		} else {
			machine.SignIn(ctx)
		}
	}

	<-ctx.Done()
	sugar.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Ops.ShutdownTimeout)
	defer cancel()

	coordinator.StopCall(shutdownCtx)
	machine.SignOut(shutdownCtx)
	coordinator.Close()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("ops server shutdown", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("tracer shutdown", "error", err)
	}
}
