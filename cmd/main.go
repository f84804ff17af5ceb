package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/configs"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/internal/database"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/internal/engine"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/internal/handlers/rest"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/internal/handlers/websocket"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/internal/notify"
	"github.com/gorilla/mux"
)

func main() {
	// Load configurations
	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatal("Error loading config", "err", err)
	}

	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}

	// Setup logger
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	logLevel, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		log.Error("Invalid log level", "err", err)
		logLevel = log.InfoLevel
	}
	log.SetLevel(logLevel)
	log.SetReportTimestamp(true)

	var logs *logBuffer
	if cfg.Features.Console {
		// The console owns the terminal, so logs go to its log view.
		logs = &logBuffer{}
		log.SetOutput(logs)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database service
	db, err := database.New(cfg)
	if err != nil {
		log.Fatal("Error opening database", "err", err)
	}
	defer db.Close()

	// Notifications go to the log, to connected websocket clients and to
	// kafka when brokers are configured.
	hub := websocket.NewHub()
	sinks := []notify.Sink{hub}
	if cfg.Features.EnableLogging {
		sinks = append(sinks, notify.LogSink())
	}
	if len(cfg.Notifications.KafkaBrokers) > 0 {
		kafkaSink := notify.NewKafkaSink(cfg.Notifications.KafkaBrokers, cfg.Notifications.KafkaTopic)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		log.Info("Publishing notifications to kafka", "brokers", cfg.Notifications.KafkaBrokers, "topic", cfg.Notifications.KafkaTopic)
	}
	dispatcher := notify.NewDispatcher(notify.Fanout(sinks...), notify.Options{
		QueueSize:       cfg.Notifications.QueueSize,
		Workers:         cfg.Notifications.Workers,
		DeliveryTimeout: cfg.Notifications.DeliveryTimeout,
	})
	defer dispatcher.Close()

	auctions := engine.New(db, dispatcher, engine.OptionsFromConfig(cfg))

	// Start periodic check for auctions
	scheduler := engine.NewScheduler(auctions, engine.SchedulerOptionsFromConfig(cfg))
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	// Setup routes
	router := mux.NewRouter()
	rest.NewHandler(auctions, db, db).Register(router)
	wsHandler := websocket.NewAuctionWebSocketHandler(auctions, db, hub, websocket.OptionsFromConfig(cfg))
	router.HandleFunc("/ws/auction", wsHandler.HandleAuctionWebSocket)

	var handler http.Handler = router
	if cfg.Features.AllowCrossOrigin {
		handler = rest.CORS(router)
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Infof("Server started on port %s", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Failed to start server", "err", err)
			stop()
		}
	}()

	if cfg.Features.Console {
		p := tea.NewProgram(newConsole(db, logs), tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			log.Error("Error running console", "err", err)
		}
		stop()
	}
	<-ctx.Done()

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down server", "err", err)
	}
	<-schedulerDone
}
