package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"phone-auth-service/internal/audit"
	"phone-auth-service/internal/bucketing"
	"phone-auth-service/internal/client"
	"phone-auth-service/internal/config"
	"phone-auth-service/internal/encryption"
	"phone-auth-service/internal/gateway"
	"phone-auth-service/internal/handler"
	"phone-auth-service/internal/ledger"
	"phone-auth-service/internal/phone"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/repository/memory"
	redisrepo "phone-auth-service/internal/repository/redis"
	"phone-auth-service/internal/repository/scylla"
	"phone-auth-service/internal/service"
	"phone-auth-service/internal/session"
	"phone-auth-service/internal/sweeper"
	"phone-auth-service/internal/tls"
	"phone-auth-service/internal/util"
)

// Factory wires configuration, clients, repositories and services
// together and owns their lifecycle.
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	redisClient      *client.RedisClient
	scyllaClient     *scylla.Client
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager

	challengeRepo repository.ChallengeRepository
	sessionRepo   repository.SessionRepository
	userRepo      repository.UserRepository

	authService *service.PhoneAuthService
	authHandler *handler.AuthHandler
	sweeper     *sweeper.Sweeper

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes every dependency. In
// development the service degrades gracefully: missing Scylla nodes
// fall back to in-memory stores and optional sinks are skipped. In
// production any client failure is fatal.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewManager(cfg.Server)
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := f.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return f, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if f.config.Redis.URL != "" {
		if rc, err := client.NewRedisClient(f.config.Redis); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = rc
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
			} else {
				util.Info("Redis client initialized and healthy")
			}
		}
	}

	if len(f.config.Scylla.Nodes) > 0 {
		if sc, err := scylla.NewClient(f.config.Scylla, f.config.IsDevelopment()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else {
			f.scyllaClient = sc
			if err := f.scyllaClient.HealthCheck(); err != nil {
				initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
			} else {
				util.Info("ScyllaDB client initialized and healthy")
			}
		}
	}

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config.Kafka, f.config.IsDevelopment()); err != nil {
			util.Warn("Kafka producer initialization failed; proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	if f.config.Elasticsearch.Enabled {
		if es, err := client.NewElasticsearchClient(f.config.Elasticsearch, f.config.IsDevelopment()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = es
			if err := f.esClient.HealthCheck(); err != nil {
				initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
			} else {
				util.Info("Elasticsearch client initialized and healthy")
			}
		}
	}

	if f.config.Clickhouse.Enabled {
		if ch, err := client.NewClickHouseClient(f.config.Clickhouse, f.config.IsProduction()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = ch
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
			} else {
				util.Info("ClickHouse client initialized and healthy")
			}
		}
	}

	f.initializeManagers(ctx)

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeManagers(ctx context.Context) {
	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("Failed to load AWS configuration; KMS envelope encryption disabled",
				util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}

	f.encryptionManager = encryption.NewManager(f.config.KMS, kmsClient)
	f.bucketingManager = bucketing.NewManager(f.config.Bucketing)
}

// initializeRepositories selects the storage backend. With a live
// Scylla client the persistent repositories are used; otherwise, in
// development only, everything runs on in-memory stores.
func (f *Factory) initializeRepositories() error {
	if f.scyllaClient != nil {
		f.challengeRepo = scylla.NewChallengeRepository(f.scyllaClient)
		f.sessionRepo = scylla.NewSessionRepository(f.scyllaClient)
		f.userRepo = scylla.NewUserRepository(f.scyllaClient, f.bucketingManager, f.encryptionManager)
		util.Info("Using ScyllaDB repositories")
		return nil
	}

	if f.config.IsProduction() {
		return fmt.Errorf("scylla client required in production")
	}

	f.challengeRepo = memory.NewChallengeStore()
	f.sessionRepo = memory.NewSessionStore()
	f.userRepo = memory.NewUserStore()
	util.Warn("Using in-memory repositories; all state is lost on restart")
	return nil
}

func (f *Factory) initializeServices() error {
	normalizer, err := phone.NewNormalizer(f.config.OTP.DefaultCountryCode, f.config.OTP.PhonePattern)
	if err != nil {
		return fmt.Errorf("phone normalizer: %w", err)
	}

	gw := gateway.NewWhatsAppGateway(f.config.Gateway, f.config.OTP.CodeLength, util.Get())

	ldg := ledger.New(f.challengeRepo, ledger.Config{
		CodeLength:  f.config.OTP.CodeLength,
		TTL:         f.config.OTP.TTL,
		MaxAttempts: f.config.OTP.MaxAttempts,
		Cooldown:    f.config.OTP.Cooldown,
	})

	var sessionCache *redisrepo.SessionCache
	var rateLimiter handler.RateLimiter
	if f.redisClient != nil {
		sessionCache = redisrepo.NewSessionCache(f.redisClient)
		rateLimiter = redisrepo.NewRateLimitCache(f.redisClient)
	}

	issuer := session.NewIssuer(f.sessionRepo, sessionCache, session.Config{
		AccessTTL:     f.config.Session.AccessTTL,
		RefreshTTL:    f.config.Session.RefreshTTL,
		RotateRefresh: f.config.Session.RotateRefresh,
	})

	resolver := service.NewRepositoryUserResolver(f.userRepo)

	var recorder *audit.Recorder
	if f.kafkaProducer != nil || f.clickhouseClient != nil || f.esClient != nil {
		recorder = audit.NewRecorder(f.kafkaProducer, f.clickhouseClient, f.esClient,
			f.config.Kafka.Topic, f.config.Clickhouse.Table, f.config.Elasticsearch.Index)
	}

	f.authService = service.NewPhoneAuthService(normalizer, gw, ldg, issuer, resolver, recorder,
		service.Config{MessageTemplate: f.config.Gateway.MessageTemplate})

	f.authHandler = handler.NewAuthHandler(f.authService, rateLimiter,
		f.config.RateLimit.RequestsPerMinute, util.Get())

	if f.config.Sweep.Enabled {
		f.sweeper = sweeper.New(f.challengeRepo, f.sessionRepo, f.config.Sweep, f.config.OTP.Retention)
	}

	return nil
}

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else if f.config.IsProduction() {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) AuthService() *service.PhoneAuthService {
	return f.authService
}

func (f *Factory) AuthHandler() *handler.AuthHandler {
	return f.authHandler
}

func (f *Factory) Sweeper() *sweeper.Sweeper {
	return f.sweeper
}
