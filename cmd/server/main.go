package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"callguard/internal/alerts"
	"callguard/internal/config"
	"callguard/internal/handler"
	"callguard/internal/llm"
	"callguard/internal/messaging"
	"callguard/internal/metrics"
	"callguard/internal/realtime"
	"callguard/internal/repository"
	"callguard/internal/service"
	"callguard/internal/telegram_bot"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultConfigPath = "configs/config.yml"

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	configPath := os.Getenv("CALLGUARD_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Starting CallGuard...", zap.String("config", configPath))

	if cfg.Database.Type == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			logger.Fatal("Failed to create data directory", zap.Error(err))
		}
	}

	store, err := repository.NewStore(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer store.Close()

	classifier, err := llm.NewClassifier(cfg.ClassifierProviders(), cfg.MaxFailuresBeforeSwitch, logger)
	if err != nil {
		logger.Fatal("Failed to initialize classifier", zap.Error(err))
	}
	defer classifier.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var hub *realtime.Hub
	if cfg.Realtime.Enabled {
		hub = realtime.NewHub(logger)
		defer hub.Close()
	}

	var publisher *messaging.Publisher
	if cfg.AMQP.Enabled {
		publisher, err = messaging.NewPublisher(messaging.Config{
			URL:        cfg.AMQP.URL,
			Exchange:   cfg.AMQP.Exchange,
			RoutingKey: cfg.AMQP.RoutingKey,
		}, logger)
		if err != nil {
			// Alerts still reach the other notifiers
			logger.Error("Failed to connect to AMQP broker, publishing disabled", zap.Error(err))
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	dispatcher := alerts.NewDispatcher(alerts.Policy{
		WarnThreshold:  cfg.Alerts.WarnThreshold,
		BlockThreshold: cfg.Alerts.BlockThreshold,
	}, logger)
	if hub != nil {
		dispatcher.Register(hub)
	}
	if publisher != nil {
		dispatcher.Register(publisher)
	}

	monitor := service.NewMonitor(store, classifier, dispatcher, m, service.Options{
		MinLength:         cfg.Analysis.MinLength,
		ClassifierTimeout: cfg.Classifier.Timeout,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telegram.Enabled {
		bot, err := telegram_bot.NewBot(cfg.Telegram.BotToken, cfg.Telegram.ChatIDs, monitor, logger)
		if err != nil {
			logger.Error("Failed to start Telegram bot, alerts will not be sent there", zap.Error(err))
		} else {
			dispatcher.Register(bot)
			go func() {
				if err := bot.Start(ctx); err != nil {
					logger.Error("Telegram bot stopped", zap.Error(err))
				}
			}()
		}
	}

	routerCfg := handler.RouterConfig{
		AllowOrigin: cfg.Server.AllowOrigin,
		Hub:         hub,
		Metrics:     m,
	}
	if cfg.Auth.Enabled {
		routerCfg.AuthSecret = []byte(cfg.Auth.JWTSecret)
	}

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(handler.NewHandler(monitor, logger), routerCfg, logger)

	serverAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	modelName := "unknown"
	if name, ok := classifier.GetModelInfo()["model"].(string); ok {
		modelName = name
	}

	logger.Info("CallGuard is running",
		zap.String("address", serverAddr),
		zap.String("model", modelName),
		zap.Bool("auth", cfg.Auth.Enabled),
		zap.Bool("realtime", hub != nil),
		zap.Bool("amqp", publisher != nil))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("Pending alerts were not delivered", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	return zapCfg.Build()
}
