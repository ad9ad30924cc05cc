package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"trivia-arena-engine/internal/app"
	"trivia-arena-engine/internal/config"
	"trivia-arena-engine/internal/domain"
	"trivia-arena-engine/internal/infra/memory"
	"trivia-arena-engine/internal/infra/openai"
	pggateway "trivia-arena-engine/internal/infra/postgres"
	redisinfra "trivia-arena-engine/internal/infra/redis"
	transport "trivia-arena-engine/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia arena engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var gateway app.PersistenceGateway
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		gateway = pggateway.NewGateway(pool)
	} else {
		memGateway := memory.NewGateway()
		memGateway.PutPeriod(demoPeriod(cfg))
		gateway = memGateway
	}

	var provider app.QuestionProvider = memory.NewSampleProvider()
	if cfg.Provider.APIKey != "" {
		provider = openai.NewProvider(cfg.Provider.APIURL, cfg.Provider.APIKey, cfg.Provider.Model)
	}
	if redisClient != nil {
		cacheTTL := config.Duration(cfg.Provider.CacheTTL, 15*time.Minute)
		provider = redisinfra.NewQuestionCache(redisClient, provider, cacheTTL, 2*cfg.Provider.BatchCap)
	}

	var rates app.RateCounter = memory.NewRateCounter()
	if redisClient != nil {
		rates = redisinfra.NewRateCounter(redisClient)
	}

	pool := app.NewQuestionPool(provider, gateway, cfg.Provider.BatchCap)
	ranker := app.NewRanker(gateway)
	cheat := app.NewCheatEvaluator(app.CheatThresholds{
		MinAverageResponseMs: cfg.AntiCheat.MinAverageResponseMs,
		FastPerfectAvgMs:     cfg.AntiCheat.FastPerfectAvgMs,
		MaxPerMinute:         cfg.AntiCheat.MaxPerMinute,
		MinAnswersForSignal:  cfg.AntiCheat.MinAnswersForSignal,
		SuspicionScore:       cfg.AntiCheat.SuspicionScore,
	})

	// The real wallet is a separate service; the engine ships with a
	// free-entry stand-in until that integration lands.
	manager := app.NewSessionManager(gateway, memory.NewFreeWallet(), pool, ranker, cheat, rates, app.EngineConfig{
		QuestionsPerSession: cfg.Game.QuestionsPerSession,
		DefaultBatchSize:    cfg.Game.DefaultBatchSize,
		MaxResumeIdle:       config.Duration(cfg.Game.MaxResumeIdle, 30*time.Minute),
		IdleTimeout:         config.Duration(cfg.Game.IdleTimeout, time.Hour),
		SweepInterval:       config.Duration(cfg.Game.SweepInterval, 5*time.Minute),
		RatePerMinute:       float64(cfg.Game.RatePerMinute),
		Score:               cfg.ScoreFunc(),
	})
	manager.StartSweeps()
	defer manager.Close()

	wsHandler := transport.NewWSHandler(manager)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting arena engine on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// demoPeriod keeps the engine playable without a database: one open period
// with free entry, running for a month from process start.
func demoPeriod(cfg config.Config) domain.Period {
	now := time.Now()
	return domain.Period{
		ID:                  "period-demo",
		ModeType:            "demo",
		Category:            "general knowledge",
		Language:            "English",
		StartsAt:            now.Add(-time.Hour),
		EndsAt:              now.Add(30 * 24 * time.Hour),
		MinAnswersToQualify: 5,
		QuestionsPerSession: cfg.Game.QuestionsPerSession,
	}
}
