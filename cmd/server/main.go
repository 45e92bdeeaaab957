package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dental-counseling/internal/config"
	"dental-counseling/internal/core"
	"dental-counseling/internal/db"
	httpserver "dental-counseling/internal/http"
	"dental-counseling/internal/llm"
	"dental-counseling/internal/logger"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger depends on config; nothing better to report with yet
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL must be set")
	}
	// Open database connection
	dbConn, err := sql.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatal("failed to open database", "error", err)
	}
	defer dbConn.Close()
	if cfg.Database.Driver == "sqlite" {
		dbConn.SetMaxOpenConns(1)
	}
	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbConn.PingContext(ctx); err != nil {
		log.Fatal("failed to ping database", "error", err)
	}
	if err := db.Migrate(ctx, dbConn); err != nil {
		log.Fatal("failed to run migrations", "error", err)
	}
	repo := db.NewRepository(dbConn, cfg.Database.Driver)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres relays SOAP updates between instances; sqlite stays in-process.
	var (
		notifier core.Notifier
		listener httpserver.Listener
	)
	if cfg.Database.Driver == "postgres" {
		pg := db.NewNotifier(dbConn, cfg.Database.URL, cfg.Database.NotifyChannel, log)
		go func() {
			if err := pg.Run(runCtx); err != nil {
				log.Error("notify listener stopped", "error", err)
			}
		}()
		notifier, listener = pg, pg
	} else {
		hub := db.NewHub()
		notifier, listener = hub, hub
	}

	// The AI analyst is optional; without a key every session takes the
	// rule-based path.
	var analyst core.Analyst
	if client := llm.NewOpenAIClient(llm.Options{
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
		BaseURL: cfg.AI.BaseURL,
	}); client != nil {
		analyst = core.NewLLMAnalyst(client)
		log.Info("ai analyst enabled", "model", cfg.AI.Model)
	} else {
		log.Warn("OPENAI_API_KEY not set; using rule-based processing only")
	}

	orch := core.NewOrchestrator(repo, analyst, notifier, log, cfg.Orchestrator())
	srv := httpserver.NewServer(repo, orch, listener, log, cfg.Location())

	addr := ":" + cfg.Server.Port
	httpSrv := &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info("listening", "addr", addr, "driver", cfg.Database.Driver)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", "error", err)
	}
}
