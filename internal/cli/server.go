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

	"github.com/siemachinol/naruto-quiz-bot/internal/app"
	"github.com/siemachinol/naruto-quiz-bot/internal/config"
	"github.com/siemachinol/naruto-quiz-bot/internal/infra/jsonfile"
	"github.com/siemachinol/naruto-quiz-bot/internal/infra/memory"
	"github.com/siemachinol/naruto-quiz-bot/internal/infra/postgres"
	redisinfra "github.com/siemachinol/naruto-quiz-bot/internal/infra/redis"
	transport "github.com/siemachinol/naruto-quiz-bot/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the engine.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz engine and gateway",
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
	if err := cfg.Validate(); err != nil {
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

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	bankLoader := jsonfile.NewBankLoader(cfg.Quiz.BankFile)
	bankTTL := config.TTLDuration(cfg.Quiz.BankTTL, 10*time.Minute)

	var questions app.QuestionRepository
	if redisClient != nil {
		questions = redisinfra.NewQuestionRepository(redisClient, bankLoader, bankTTL)
	} else {
		questions = memory.NewQuestionRepository(bankLoader, bankTTL)
	}

	var cooldowns app.CooldownStore
	if redisClient != nil {
		cooldowns = redisinfra.NewCooldownStore(redisClient)
	} else {
		cooldowns = memory.NewCooldownStore()
	}

	var leaderboard app.LeaderboardStore
	if pool != nil {
		leaderboard = postgres.NewLeaderboardStore(pool)
	} else {
		leaderboard = memory.NewLeaderboardStore()
	}

	// The gateway publishes for the services and routes interactions
	// back into them, so it is built first and bound after.
	gateway := transport.NewGateway()
	rounds := app.NewRoundService(gateway, leaderboard, questions, cfg.Quiz.RoundDuration())
	lifelines := app.NewLifelineService(rounds, cooldowns, cfg.Quiz.CooldownWindow(), cfg.Quiz.OncePerRound())
	gateway.Bind(rounds, lifelines)

	scheduler := app.NewScheduler(rounds, gateway, app.SchedulerConfig{
		Channels:  cfg.Quiz.Channels,
		Slots:     app.ParseSlots(cfg.Quiz.Times),
		AlertLead: cfg.Quiz.AlertLead(),
		Tolerance: cfg.Quiz.FireTolerance(),
		Interval:  cfg.Quiz.TickInterval(),
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go scheduler.Run(runCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", transport.Health)
	mux.HandleFunc("/ws", gateway.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz engine on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down...")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
