// Package main is the entrypoint for the Keypost API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/keypost/keypost/internal/auth"
	"github.com/keypost/keypost/internal/cache"
	"github.com/keypost/keypost/internal/config"
	"github.com/keypost/keypost/internal/idp"
	"github.com/keypost/keypost/internal/metrics"
	"github.com/keypost/keypost/internal/middleware"
	"github.com/keypost/keypost/internal/repository"
	"github.com/keypost/keypost/internal/server"
	"github.com/keypost/keypost/internal/service"
)

func main() {
	checkDB := flag.Bool("check-db", false, "connect to the database, print the user count and exit")
	subject := flag.String("subject", "", "with --check-db, also look up the user mirrored for this token subject")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if *checkDB {
		if err := runCheckDB(context.Background(), cfg, logger, *subject); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Background work (the JWKS cache) lives until shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return fmt.Errorf("connect database: %w", err)
	}
	logger.Info("connected to database")

	if cfg.DBAutoMigrate {
		version, err := repository.Migrate(ctx, cfg.DatabaseURL)
		if err != nil {
			repo.Close()
			logger.Error("failed to run migrations", slog.String("error", sanitizeError(err, cfg.DatabaseURL)))
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("database migrated", slog.Int64("version", version))
	}

	recorder := metrics.NewPrometheus()

	proxies, err := middleware.NewTrustedProxies(cfg.GetTrustedProxies())
	if err != nil {
		repo.Close()
		return fmt.Errorf("parse TRUSTED_PROXIES: %w", err)
	}

	origins := cfg.GetCORSAllowedOrigins()
	if cfg.IsProduction() && slices.Contains(origins, "*") {
		logger.Warn("CORS allows any origin in production", slog.String("cors_allowed_origins", cfg.CORSAllowedOrigins))
	}

	deps := server.Deps{
		Logger:         logger,
		Metrics:        recorder,
		Database:       repo,
		LoginRateRPS:   cfg.RateLimitLoginRPS,
		LoginRateBurst: cfg.RateLimitLoginBurst,
		TrustedProxies: proxies,
		MetricsHandler: recorder.Handler(),
		Security: middleware.SecurityConfig{
			IsDevelopment:      cfg.IsDevelopment(),
			MaxRequestBodySize: cfg.MaxRequestBodySize,
		},
		CORS: middleware.CORSConfig{
			AllowedOrigins: origins,
			MaxAge:         middleware.DefaultCORSConfig().MaxAge,
		},
	}

	// Redis is optional; without it login is not rate limited.
	var cacheClient *cache.Cache
	if cfg.RedisURL != "" {
		cacheClient, err = cache.New(ctx, cfg.RedisURL)
		if err != nil {
			repo.Close()
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			return fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("connected to Redis")
		deps.Cache = cacheClient
		deps.LoginLimiter = cacheClient
	} else {
		logger.Warn("REDIS_URL not set, login rate limiting disabled")
	}

	idpClient := idp.NewHTTPClient(cfg.IDPTimeout)
	issuer := cfg.Issuer()

	endpoints, err := idp.ResolveEndpoints(ctx, issuer, cfg.KeycloakDiscovery, idpClient)
	if err != nil {
		repo.Close()
		return fmt.Errorf("resolve identity provider endpoints: %w", err)
	}

	keys, err := auth.NewRemoteKeySet(ctx, endpoints.JWKSURL, idpClient,
		auth.WithFetchTimeout(cfg.IDPTimeout),
		auth.WithRefreshCooldown(cfg.JWKSRefreshCooldown),
		auth.WithRefreshObserver(func(status string) {
			recorder.IncKeySetRefresh(status)
			if status == metrics.StatusError {
				logger.Warn("JWKS refresh failed", slog.String("jwks_url", endpoints.JWKSURL))
			}
		}),
	)
	if err != nil {
		repo.Close()
		return fmt.Errorf("create key set: %w", err)
	}

	deps.Verifier = auth.NewVerifier(issuer, keys, auth.WithLeeway(cfg.TokenLeeway))
	deps.Mirror = service.NewUserService(repo, recorder)
	deps.Posts = service.NewPostService(repo, recorder)
	loginClient := idp.NewClient(idp.Config{
		TokenURL:     endpoints.TokenURL,
		ClientID:     cfg.KeycloakClientID,
		ClientSecret: cfg.KeycloakClientSecret,
		HTTPClient:   idpClient,
	})
	deps.Login = loginClient

	logger.Info("identity provider configured",
		slog.String("issuer", issuer),
		slog.String("token_url", loginClient.TokenURL()),
		slog.String("jwks_url", keys.URL()),
		slog.Bool("discovery", cfg.KeycloakDiscovery),
		slog.Duration("jwks_refresh_cooldown", cfg.JWKSRefreshCooldown),
	)

	srv := server.New(server.NewRouter(deps), server.Options{
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Registered first, closed last.
	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	if cacheClient != nil {
		srv.OnShutdown("redis", func(context.Context) error {
			return cacheClient.Close()
		})
	}
	srv.OnShutdown("jwks", func(context.Context) error {
		cancel()
		return nil
	})

	logger.Info("starting server",
		"port", cfg.Port,
		"env", cfg.AppEnv,
		"realm", cfg.Realm(),
	)

	return srv.Run(ctx)
}

// runCheckDB connects to the database and reports how many users are mirrored.
// When subject is set the matching user is looked up too.
func runCheckDB(ctx context.Context, cfg *config.Config, logger *slog.Logger, subject string) error {
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return err
	}
	defer repo.Close()

	count, err := repo.CountUsers(ctx)
	if err != nil {
		logger.Error("failed to count users", slog.String("error", sanitizeError(err, cfg.DatabaseURL)))
		return err
	}

	logger.Info("database connection ok", slog.Int64("users", count))

	if subject == "" {
		return nil
	}

	user, err := repo.GetUserBySubject(ctx, subject)
	if errors.Is(err, repository.ErrUserNotFound) {
		logger.Warn("no user mirrored for subject", slog.String("subject", subject))
		return err
	}
	if err != nil {
		logger.Error("failed to look up user", slog.String("error", sanitizeError(err, cfg.DatabaseURL)))
		return err
	}

	logger.Info("user mirrored",
		slog.String("user_id", user.ID),
		slog.String("subject", user.KeycloakID),
		slog.Time("updated_at", user.UpdatedAt),
	)
	return nil
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s&]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
