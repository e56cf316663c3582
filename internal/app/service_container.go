package app

import (
	"context"
	"fmt"
	"time"

	"nvct-backend/internal/clients"
	"nvct-backend/internal/config"
	"nvct-backend/internal/db"
	"nvct-backend/internal/events"
	"nvct-backend/internal/models"
	"nvct-backend/internal/repository"
	"nvct-backend/internal/services"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ServiceContainer owns every long-lived dependency of the server
type ServiceContainer struct {
	Config     *config.Config
	InstanceID string

	// Storage; DB is nil when running on in-memory repositories
	DB    *gorm.DB
	Redis redis.UniversalClient

	// Repositories
	MultisigRepo    repository.MultisigRepository
	SettlementRepo  repository.SettlementRepository
	SubmissionRepo  repository.LedgerSubmissionRepository
	AdminUserRepo   repository.AdminUserRepository
	PendingOpsStore repository.PendingOperationStore

	// Core Services
	Contracts   *config.ContractRegistry
	Keyring     *services.Keyring
	Ledger      *services.LedgerConnector
	Multisig    *services.MultisigService
	Settlements *services.SettlementService
	Tokens      *services.TokenService
	Credentials *services.CredentialService
	Gate        *services.SecurityGateService

	// Events & Push
	NATSClient    *clients.NATSClient
	Push          *services.WebSocketPushService
	Publisher     services.EventPublisher
	Notifications *services.NotificationRouter

	natsRelay *nats.Subscription
}

// NewServiceContainer builds the container. NATS and Redis are optional: a failed
// NATS connection downgrades to local-only events, a configured but unreachable
// Redis fails startup.
func NewServiceContainer(ctx context.Context, cfg *config.Config) (*ServiceContainer, error) {
	logrus.Info("🚀 Initializing Service Container...")

	c := &ServiceContainer{
		Config:     cfg,
		InstanceID: uuid.NewString(),
	}

	if err := c.initRepositories(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}
	c.initEventServices()
	if err := c.initCoreServices(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize core services: %w", err)
	}

	logrus.Info("✅ Service Container initialized successfully")
	return c, nil
}

// initRepositories picks gorm repositories when a DSN is configured, memory otherwise
func (c *ServiceContainer) initRepositories(ctx context.Context) error {
	logrus.Info("📦 Initializing Repositories...")

	if c.Config.Database.DSN != "" {
		database, err := db.Open(c.Config.Database)
		if err != nil {
			return err
		}
		c.DB = database
		c.MultisigRepo = repository.NewMultisigRepository(database)
		c.SettlementRepo = repository.NewSettlementRepository(database)
		c.SubmissionRepo = repository.NewLedgerSubmissionRepository(database)
		c.AdminUserRepo = repository.NewAdminUserRepository(database)
	} else {
		logrus.Warn("⚠️ [Container] no database DSN, records are kept in memory only")
		c.MultisigRepo = repository.NewMemoryMultisigRepository()
		c.SettlementRepo = repository.NewMemorySettlementRepository()
		c.SubmissionRepo = repository.NewMemoryLedgerSubmissionRepository()
		c.AdminUserRepo = repository.NewMemoryAdminUserRepository()
	}

	switch c.Config.SecurityGate.Store {
	case "redis":
		rc := c.Config.Redis
		timeout := time.Duration(rc.Timeout) * time.Second
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client := redis.NewClient(&redis.Options{
			Addr:         rc.Addr(),
			Password:     rc.Password,
			DB:           rc.DB,
			DialTimeout:  timeout,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		})
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("redis %s unreachable: %w", rc.Addr(), err)
		}
		c.Redis = client
		c.PendingOpsStore = repository.NewRedisOperationStore(client, "nvct")
		logrus.Infof("✅ [Container] pending operations stored in Redis %s", rc.Addr())
	default:
		c.PendingOpsStore = repository.NewMemoryOperationStore()
	}
	return nil
}

// initEventServices WebSocket hub always, NATS when configured
func (c *ServiceContainer) initEventServices() {
	c.Push = services.NewWebSocketPushService(c.Config.CORS.AllowedOrigins)
	publishers := services.MultiPublisher{c.Push}
	channel := c.Config.SecurityGate.NotificationChannel

	if c.Config.NATS.URL != "" {
		client, err := clients.NewNATSClient(c.Config.NATS)
		if err != nil {
			logrus.WithError(err).Warn("⚠️ [Container] NATS unavailable, status events stay local")
		} else {
			c.NATSClient = client
		}
	} else {
		logrus.Info("⏭️  [Container] NATS not configured, status events stay local")
	}

	if c.NATSClient == nil && channel == "nats" {
		logrus.Warn("⚠️ [Container] security codes fall back to the log channel")
		channel = "log"
	}
	c.Notifications = services.NewNotificationRouter(channel)
	c.Notifications.Register("log", services.LogNotifier{})

	if c.NATSClient != nil {
		publishers = append(publishers, events.NewNATSStatusPublisher(c.NATSClient, c.InstanceID))
		c.Notifications.Register("nats", events.NewNATSNotifier(c.NATSClient))

		if sub, err := events.ForwardRemoteEvents(c.NATSClient, c.InstanceID, c.Push); err != nil {
			logrus.WithError(err).Warn("⚠️ [Container] remote status relay disabled")
		} else {
			c.natsRelay = sub
		}
	}
	c.Publisher = publishers
}

func (c *ServiceContainer) initCoreServices(ctx context.Context) error {
	logrus.Info("🔧 Initializing Core Services...")
	bc := c.Config.Blockchain

	defaultNetwork, err := models.ParseNetwork(bc.DefaultNetwork)
	if err != nil {
		defaultNetwork = models.NetworkTestnet
	}
	contracts, err := config.NewContractRegistry(bc.ContractsFile, defaultNetwork)
	if err != nil {
		return err
	}
	c.Contracts = contracts

	keyring, err := services.NewKeyringFromConfig(bc.Networks)
	if err != nil {
		return err
	}
	c.Keyring = keyring

	nodes := make(map[models.Network]clients.ChainNode)
	for network, client := range clients.DialNodes(ctx, bc.Networks) {
		nodes[network] = client
	}
	c.Ledger = services.NewLedgerConnector(nodes, keyring, c.SubmissionRepo, services.LedgerConnectorConfig{
		Networks:       bc.Networks,
		ReceiptTimeout: bc.ReceiptTimeoutDuration(),
		PollInterval:   bc.PollIntervalDuration(),
		RetryAttempts:  bc.RetryAttempts,
	})

	if c.Multisig, err = services.NewMultisigService(c.MultisigRepo, c.Ledger, c.Publisher); err != nil {
		return err
	}
	if c.Settlements, err = services.NewSettlementService(c.SettlementRepo, c.Ledger, contracts, c.Publisher); err != nil {
		return err
	}
	if c.Tokens, err = services.NewTokenService(c.Ledger, contracts, c.Publisher); err != nil {
		return err
	}

	c.Credentials = services.NewCredentialService(c.AdminUserRepo, 0)
	if err := c.Credentials.Bootstrap(ctx, c.Config.Admin); err != nil {
		return err
	}

	gateCfg := c.Config.SecurityGate
	highRisk := make([]models.OperationType, 0, len(gateCfg.HighRiskOperations))
	for _, op := range gateCfg.HighRiskOperations {
		highRisk = append(highRisk, models.OperationType(op))
	}
	c.Gate = services.NewSecurityGateService(c.PendingOpsStore, c.Credentials, c.Notifications, c.Publisher, services.SecurityGateConfig{
		TTL:           gateCfg.TTL(),
		SweepInterval: time.Duration(gateCfg.SweepInterval) * time.Second,
		HighRisk:      highRisk,
	})
	registerOperationHandlers(c.Gate, c.Multisig, c.Settlements, c.Tokens, contracts)
	c.Gate.Start(ctx)

	return nil
}

// NetworkContext resolves the request's network: explicit value, else the registry flag
func (c *ServiceContainer) NetworkContext(requested, actor string) (models.NetworkContext, error) {
	network := c.Contracts.CurrentNetwork()
	if requested != "" {
		parsed, err := models.ParseNetwork(requested)
		if err != nil {
			return models.NetworkContext{}, err
		}
		network = parsed
	}
	return models.NewNetworkContext(network, actor), nil
}

// Close stops background workers and releases connections
func (c *ServiceContainer) Close() {
	if c.Gate != nil {
		c.Gate.Stop()
	}
	if c.natsRelay != nil {
		c.natsRelay.Unsubscribe()
	}
	if c.NATSClient != nil {
		c.NATSClient.Close()
	}
	if c.Push != nil {
		c.Push.Close()
	}
	if c.Redis != nil {
		c.Redis.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	logrus.Info("👋 [Container] shut down")
}
