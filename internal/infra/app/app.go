package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/qisslab/entativa-id-security/internal/core/port"
	"github.com/qisslab/entativa-id-security/internal/infra/config"
	"github.com/qisslab/entativa-id-security/internal/infra/database"
	"github.com/qisslab/entativa-id-security/internal/infra/intel"
	kafkainfra "github.com/qisslab/entativa-id-security/internal/infra/kafka"
	"github.com/qisslab/entativa-id-security/internal/infra/logger"
	"github.com/qisslab/entativa-id-security/internal/infra/notify"
	redisinfra "github.com/qisslab/entativa-id-security/internal/infra/redis"
	"github.com/qisslab/entativa-id-security/internal/infra/security"
	"github.com/qisslab/entativa-id-security/internal/infra/telemetry"
	postgresrepo "github.com/qisslab/entativa-id-security/internal/repository/postgres"
	redisrepo "github.com/qisslab/entativa-id-security/internal/repository/redis"
	"github.com/qisslab/entativa-id-security/internal/transport/ops"
	"github.com/qisslab/entativa-id-security/internal/usecase"
)

// Application bundles the wired service graph and its lifecycle.
type Application struct {
	cfg    *config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redisinfra.Client

	Handles *usecase.HandleService
	Risk    *usecase.RiskService
	MFA     *usecase.MFAService
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	provider, err := telemetry.Attach(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	// Kafka audit publisher, with a logging stub when brokers are absent.
	var audit port.AuditPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			audit = kafkainfra.NewStubPublisher(log)
		} else {
			audit = kafkainfra.NewAuditPublisher(kafkaProducer, cfg.App, log)
			log.Info("kafka audit publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		audit = kafkainfra.NewStubPublisher(log)
	}
	audit = telemetry.InstrumentAudit(provider, audit)

	prefix := cfg.Redis.KeyPrefix
	verdictCache := redisrepo.NewVerdictCache(redisClient.Client(), prefix)
	assessmentCache := redisrepo.NewAssessmentCache(redisClient.Client(), prefix)
	challenges := redisrepo.NewChallengeRepository(redisClient.Client(), prefix)
	lockouts := redisrepo.NewLockoutRepository(redisClient.Client(), prefix)
	signals := redisrepo.NewSignalStore(redisClient.Client(), prefix)
	devices := redisrepo.NewDeviceHistoryRepository(redisClient.Client(), prefix)
	locations := redisrepo.NewLocationHistoryRepository(redisClient.Client(), prefix)

	attemptWindowTTL := 2 * cfg.Risk.SignupWindow
	if attemptWindowTTL <= 0 {
		attemptWindowTTL = 2 * time.Hour
	}
	attempts := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: prefix + ":attempts",
		TTL:       attemptWindowTTL,
	})

	protectedIndex := postgresrepo.NewProtectedEntityRepository(pool, cfg.Handle.ProtectedRefreshInterval)
	handleRegistry := postgresrepo.NewHandleRepository(pool)
	enrollments := postgresrepo.NewEnrollmentRepository(pool)

	masterKey, err := security.LoadMasterKey(cfg.App.Env, cfg.MFA.MasterKey, log)
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("load master key: %w", err)
	}
	envelope, err := security.NewEnvelope(cfg.MFA.MasterKeyID, masterKey)
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init envelope: %w", err)
	}

	tokenSecret := []byte(cfg.MFA.TokenSecret)
	if len(tokenSecret) == 0 {
		if cfg.App.Env == "production" {
			_ = redisClient.Close()
			pool.Close()
			return nil, fmt.Errorf("challenge token secret is required in production")
		}
		generated, err := security.GenerateSecureToken(32)
		if err != nil {
			_ = redisClient.Close()
			pool.Close()
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
		tokenSecret = []byte(generated)
		log.Warn("no challenge token secret configured, using ephemeral secret")
	}
	tokens, err := security.NewChallengeTokenIssuer(cfg.App.Name, tokenSecret, cfg.MFA.TokenTTL)
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init challenge token issuer: %w", err)
	}

	reputation, err := intel.NewStaticIPReputation(nil, nil)
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init ip reputation: %w", err)
	}
	geo := intel.NewStaticGeoResolver(nil)
	emailIntel := intel.NewStaticEmailIntel(nil)
	phoneIntel := intel.NewStaticPhoneIntel(nil)

	// Collector order matters: temporal reads the per-account attempt window
	// before velocity records the current attempt into it.
	collectors := []port.SignalCollector{
		usecase.NewNetworkCollector(reputation, geo, locations),
		usecase.NewDeviceCollector(devices),
		usecase.NewBehavioralCollector(intel.NoBaseline{}),
		usecase.NewIdentifierHygieneCollector(emailIntel, phoneIntel),
		usecase.NewTemporalCollector(attempts),
		usecase.NewVelocityCollector(attempts, usecase.VelocityThresholds{
			Window:          cfg.Risk.VelocityWindow,
			IPAttempts:      cfg.Risk.IPAttemptThreshold,
			AccountAttempts: cfg.Risk.AccountAttemptThreshold,
			SignupWindow:    cfg.Risk.SignupWindow,
			SignupAttempts:  cfg.Risk.SignupAttemptThreshold,
		}),
	}

	handleService := usecase.NewHandleService(cfg.Handle, protectedIndex, handleRegistry, verdictCache, audit, log)
	riskService := usecase.NewRiskService(cfg.Risk, collectors, assessmentCache, audit, log)
	mfaService := usecase.NewMFAService(
		cfg.MFA,
		enrollments,
		challenges,
		lockouts,
		signals,
		notify.NewLoggingSender(log),
		audit,
		envelope,
		tokens,
		log,
	)

	engine := ops.Register(ops.Dependencies{
		Env:      cfg.App.Env,
		Logger:   log,
		Database: pool,
		Cache:    redisClient,
	})

	return &Application{
		cfg:     cfg,
		engine:  engine,
		logger:  log,
		pool:    pool,
		redis:   redisClient,
		Handles: handleService,
		Risk:    riskService,
		MFA:     mfaService,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting identity security service",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
