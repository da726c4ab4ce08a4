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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ehr/patientsummary/internal/config"
	"github.com/ehr/patientsummary/internal/domain/note"
	"github.com/ehr/patientsummary/internal/domain/patient"
	"github.com/ehr/patientsummary/internal/domain/summary"
	"github.com/ehr/patientsummary/internal/platform/db"
	"github.com/ehr/patientsummary/internal/platform/jobs"
	"github.com/ehr/patientsummary/internal/platform/llm"
	"github.com/ehr/patientsummary/internal/platform/middleware"
	"github.com/ehr/patientsummary/internal/platform/telemetry"
	"github.com/ehr/patientsummary/internal/seed"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "summary-server",
		Short: "Patient records and clinical summary API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and summary workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, afero.NewOsFs(), migrationsDir(dir, cfg))
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, afero.NewOsFs(), migrationsDir(dir, cfg))
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load sample patients and notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			fx, err := seed.Load(afero.NewOsFs(), file)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			seeder := seed.NewSeeder(patient.NewRepo(pool), note.NewRepo(pool), db.NewTxScope(pool), logger)
			res, err := seeder.Run(ctx, fx)
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			if res.Skipped {
				fmt.Println("Database already contains patients; nothing seeded.")
				return nil
			}
			fmt.Printf("Seeded %d patient(s) and %d note(s).\n", res.Patients, res.Notes)
			return nil
		},
	}
	cmd.Flags().String("file", "fixtures/sample_data.yaml", "YAML fixture to load")
	return cmd
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)

	// Database
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	metrics := telemetry.NewProvider(telemetry.Config{
		ServiceVersion: version,
		Environment:    cfg.Env,
		MetricsEnabled: telemetry.BoolPtr(cfg.MetricsEnabled),
	})
	defer metrics.Shutdown(context.Background())

	// LLM settings are swapped in place when .env changes.
	settings := llm.NewSettingsStore(llmSettings(cfg.LLM))
	if err := config.Watch(func(next *config.Config, err error) {
		if err != nil {
			logger.Warn().Err(err).Msg("config reload failed, keeping previous LLM settings")
			return
		}
		settings.Store(llmSettings(next.LLM))
		logger.Info().Str("provider", next.LLM.Provider).Msg("LLM settings reloaded")
	}); err != nil {
		logger.Debug().Err(err).Msg("config file not watched")
	}

	// Domain wiring
	patientRepo := patient.NewRepo(pool)
	noteRepo := note.NewRepo(pool)
	patientSvc := patient.NewService(patientRepo, metrics)
	noteSvc := note.NewService(noteRepo, patientSvc, metrics)

	gen := summary.NewGenerator(llm.NewSelector(settings), summary.Parser{Strict: cfg.SOAPStrictHeaders}, logger, metrics)
	summarySvc := summary.NewService(patientRepo, noteRepo, gen, db.NewPoolScope(pool), logger, metrics)

	// Job queue
	queue := jobs.NewQueue(newJobStore(cfg.Jobs, pool),
		jobs.WithWorkers(cfg.Jobs.Workers),
		jobs.WithQueueSize(cfg.Jobs.QueueSize),
		jobs.WithTimeout(cfg.Jobs.Timeout),
		jobs.WithResultTTL(cfg.Jobs.ResultTTL),
		jobs.WithLogger(logger),
		jobs.WithMetrics(metrics),
	)
	queue.Register(summary.TaskName, summarySvc.TaskFunc())

	queueCtx, stopQueue := context.WithCancel(context.Background())
	queueDone := make(chan error, 1)
	go func() { queueDone <- queue.Run(queueCtx) }()
	logger.Info().Str("store", cfg.Jobs.Store).Int("workers", cfg.Jobs.Workers).Msg("job queue started")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.PrometheusHandler())

	apiV1 := e.Group("/api/v1")

	// Only the summary routes are rate limited.
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	note.NewHandler(noteSvc).RegisterRoutes(apiV1)
	summary.NewHandler(summarySvc, patientSvc, queue, metrics, middleware.RateLimit(rateLimitCfg)).RegisterRoutes(apiV1)
	jobs.NewHandler(queue).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("provider", cfg.LLM.Provider).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	stopQueue()
	select {
	case err := <-queueDone:
		if err != nil {
			logger.Error().Err(err).Msg("job queue stopped with error")
		}
	case <-shutdownCtx.Done():
		logger.Warn().Msg("job queue did not stop in time")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).Level(cfg.Level()).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(cfg.Level()).With().Timestamp().Logger()
	}
	return logger
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

func migrationsDir(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.MigrationsDir
}

// llmSettings maps the flat environment keys onto provider settings. The
// hosted providers share LLM_TIMEOUT; Ollama has its own.
func llmSettings(c config.LLMConfig) llm.Settings {
	return llm.Settings{
		Provider: c.Provider,
		Ollama: llm.OllamaSettings{
			URL:         c.OllamaURL,
			Model:       c.OllamaModel,
			Temperature: c.OllamaTemperature,
			TopP:        c.OllamaTopP,
			TopK:        c.OllamaTopK,
			NumCtx:      c.OllamaNumCtx,
			NumPredict:  c.OllamaNumPredict,
			Timeout:     c.OllamaTimeout,
		},
		OpenAI: llm.OpenAISettings{
			APIKey:  c.OpenAIAPIKey,
			Model:   c.OpenAIModel,
			BaseURL: c.OpenAIBaseURL,
			Timeout: c.Timeout,
		},
		Anthropic: llm.AnthropicSettings{
			APIKey:  c.AnthropicAPIKey,
			Model:   c.AnthropicModel,
			BaseURL: c.AnthropicBaseURL,
			Version: c.AnthropicVersion,
			Timeout: c.Timeout,
		},
	}
}

func newJobStore(c config.JobConfig, pool *pgxpool.Pool) jobs.Store {
	if c.Store == "postgres" {
		return jobs.NewPGStore(pool)
	}
	return jobs.NewInMemoryStore()
}
