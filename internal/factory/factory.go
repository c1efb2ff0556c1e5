package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"booking-service/internal/client"
	"booking-service/internal/config"
	"booking-service/internal/handler"
	"booking-service/internal/hashing"
	"booking-service/internal/janitor"
	"booking-service/internal/otp"
	"booking-service/internal/phone"
	"booking-service/internal/proof"
	"booking-service/internal/repository/clickhouse"
	redisrepo "booking-service/internal/repository/redis"
	"booking-service/internal/repository/scylla"
	"booking-service/internal/service"
	"booking-service/internal/sms"
	"booking-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Core components
	hasher     *hashing.Hasher
	normalizer *phone.Normalizer
	issuer     *proof.Issuer

	challengeStore otp.ChallengeStore
	engine         *otp.Engine
	smsSender      sms.Sender
	smsLog         *clickhouse.SMSLogRepository

	customerRepository  *scylla.CustomerRepository
	verificationService *service.VerificationService
	customerService     *service.CustomerService
	janitor             *janitor.Janitor

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.hasher = hashing.NewHasher(cfg)
	factory.normalizer = phone.NewNormalizer(cfg.OTP.CountryCode)
	factory.issuer = proof.NewIssuer([]byte(cfg.Proof.Secret), cfg.Proof.TTL)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("otp_store", cfg.OTP.StoreBackend),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("clickhouse_enabled", cfg.Clickhouse.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis backs the challenge store unless Scylla was selected.
	if f.config.OTP.StoreBackend == "redis" {
		if redisClient, err := client.NewRedisClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = redisClient
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
			} else {
				util.Info("Redis client initialized and healthy")
			}
		}
	}

	// ScyllaDB holds customers and, optionally, challenges.
	if scyllaClient, err := scylla.NewScyllaClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Kafka carries outbound SMS jobs; optional in development.
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	// ClickHouse receives the verification audit log; optional everywhere.
	if f.config.Clickhouse.Enabled {
		if chClient, err := client.NewClickHouseClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = chClient
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
			} else {
				util.Info("ClickHouse client initialized and healthy")
			}
		}
	}

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

// ==============================
// Component getters
// ==============================

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) Normalizer() *phone.Normalizer {
	return f.normalizer
}

func (f *Factory) ProofIssuer() *proof.Issuer {
	return f.issuer
}

func (f *Factory) ChallengeStore() otp.ChallengeStore {
	if f.challengeStore == nil {
		switch f.config.OTP.StoreBackend {
		case "scylla":
			f.challengeStore = scylla.NewChallengeStore(f.scyllaClient)
		default:
			f.challengeStore = redisrepo.NewChallengeStore(f.redisClient)
		}
	}
	return f.challengeStore
}

func (f *Factory) Engine() *otp.Engine {
	if f.engine == nil {
		f.engine = otp.NewEngine(f.ChallengeStore(), f.Hasher(), f.config.OTP)
	}
	return f.engine
}

func (f *Factory) SMSSender() sms.Sender {
	if f.smsSender == nil {
		if f.kafkaProducer != nil {
			f.smsSender = sms.NewKafkaSender(f.kafkaProducer, f.config.Kafka.SMSTopic)
		} else {
			f.smsSender = sms.LogSender{}
		}
	}
	return f.smsSender
}

// AuditLog returns the ClickHouse sink, or nil when auditing is disabled.
func (f *Factory) AuditLog() service.AuditLog {
	if f.clickhouseClient == nil {
		return nil
	}
	if f.smsLog == nil {
		f.smsLog = clickhouse.NewSMSLogRepository(f.clickhouseClient)
	}
	return f.smsLog
}

func (f *Factory) CustomerRepository() *scylla.CustomerRepository {
	if f.customerRepository == nil {
		f.customerRepository = scylla.NewCustomerRepository(f.scyllaClient)
	}
	return f.customerRepository
}

func (f *Factory) VerificationService() *service.VerificationService {
	if f.verificationService == nil {
		f.verificationService = service.NewVerificationService(
			f.Engine(),
			f.Normalizer(),
			f.ProofIssuer(),
			f.SMSSender(),
			f.AuditLog(),
		)
	}
	return f.verificationService
}

func (f *Factory) CustomerService() *service.CustomerService {
	if f.customerService == nil {
		f.customerService = service.NewCustomerService(
			f.CustomerRepository(),
			f.Hasher(),
			f.Normalizer(),
			f.ProofIssuer(),
		)
	}
	return f.customerService
}

func (f *Factory) Janitor() *janitor.Janitor {
	if f.janitor == nil {
		f.janitor = janitor.New(f.Engine(), f.config.OTP.JanitorInterval)
	}
	return f.janitor
}

func (f *Factory) Router() http.Handler {
	verificationHandler := handler.NewVerificationHandler(f.VerificationService(), util.Get())
	customerHandler := handler.NewCustomerHandler(f.CustomerService(), util.Get())
	return handler.NewRouter(verificationHandler, customerHandler, util.Get())
}

// ==============================
// Health Checks
// ==============================

// HealthCheck probes all configured backends concurrently.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var mu sync.Mutex
	healthErrors := make(map[string]error)
	record := func(name string, err error) {
		mu.Lock()
		healthErrors[name] = err
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)

	if f.redisClient != nil {
		g.Go(func() error {
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				record("redis", err)
			}
			return nil
		})
	} else if f.config.OTP.StoreBackend == "redis" {
		record("redis", fmt.Errorf("redis client not initialized"))
	}

	if f.scyllaClient != nil {
		g.Go(func() error {
			if err := f.scyllaClient.HealthCheck(ctx); err != nil {
				record("scylla", err)
			}
			return nil
		})
	} else {
		record("scylla", fmt.Errorf("scylla client not initialized"))
	}

	if f.clickhouseClient != nil {
		g.Go(func() error {
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				record("clickhouse", err)
			}
			return nil
		})
	}

	if f.kafkaProducer != nil {
		g.Go(func() error {
			if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
				record("kafka", err)
			}
			return nil
		})
	}

	_ = g.Wait()
	return healthErrors
}

// IsHealthy reports whether the required backends are reachable. Kafka is
// advisory: code delivery degrades but verification keeps working.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

// ==============================
// Shutdown
// ==============================

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

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}
