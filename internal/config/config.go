package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	NATS         NATSConfig         `yaml:"nats"`
	Redis        RedisConfig        `yaml:"redis"`
	Blockchain   BlockchainConfig   `yaml:"blockchain"`
	SecurityGate SecurityGateConfig `yaml:"securityGate"`
	Admin        AdminConfig        `yaml:"admin"`
	CORS         CORSConfig         `yaml:"cors"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	MetricsAllowlist []string `yaml:"metricsAllowlist"` // IPs or CIDRs besides loopback allowed to scrape /metrics
	TrustedProxies   []string `yaml:"trustedProxies"`
}

// Addr listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig Database configuration. Empty DSN keeps every store in memory.
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
	SubjectPrefix string `yaml:"subject_prefix"`
	JetStream     bool   `yaml:"jetstream"` // persist status events in a stream
}

// RedisConfig Redis cache configuration, used for the pending operation store
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Timeout  int    `yaml:"timeout"`
}

// Addr host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// BlockchainConfig Blockchain configuration
type BlockchainConfig struct {
	DefaultNetwork string                   `yaml:"defaultNetwork"` // testnet unless set
	ContractsFile  string                   `yaml:"contractsFile"`  // contract address registry file
	ReceiptTimeout int                      `yaml:"receiptTimeout"` // seconds to wait for a receipt
	PollInterval   int                      `yaml:"pollIntervalMs"` // receipt polling interval
	RetryAttempts  int                      `yaml:"retryAttempts"`  // bounded retries for read-only node calls
	Networks       map[string]NetworkConfig `yaml:"networks"`
}

// NetworkConfig per network node and signer configuration
type NetworkConfig struct {
	ChainID            int64          `yaml:"chainId"`
	RPCEndpoints       []string       `yaml:"rpcEndpoints"`
	PrivateKeys        []string       `yaml:"privateKeys"` // hex, managed sender accounts
	GasPrice           string         `yaml:"gasPrice"`    // wei; empty uses node suggestion
	GasPriceMultiplier float64        `yaml:"gasPriceMultiplier"`
	GasLimit           uint64         `yaml:"gasLimit"`           // plain transfers and multisig execution
	SettlementGasLimit uint64         `yaml:"settlementGasLimit"` // settlePayment calls
	Multisig           MultisigConfig `yaml:"multisig"`
	Enabled            bool           `yaml:"enabled"`
}

// MultisigConfig wallet owners and threshold
type MultisigConfig struct {
	Owners   []string `yaml:"owners"`
	Required int      `yaml:"required"`
	Executor string   `yaml:"executor"` // managed account that broadcasts executions
}

// SecurityGateConfig mainnet confirmation gate configuration
type SecurityGateConfig struct {
	OperationTTL        int      `yaml:"operationTtl"`  // seconds
	SweepInterval       int      `yaml:"sweepInterval"` // seconds, 0 disables the sweeper
	Store               string   `yaml:"store"`         // memory | redis
	HighRiskOperations  []string `yaml:"highRiskOperations"`
	NotificationChannel string   `yaml:"notificationChannel"` // default channel for security codes
}

// AdminConfig Admin login and token configuration
type AdminConfig struct {
	Username      string          `yaml:"username"`
	Password      string          `yaml:"password"` // bootstrap only, stored as bcrypt hash
	Email         string          `yaml:"email"`
	Address       string          `yaml:"address"` // multisig owner address the admin acts as
	TOTPSecret    string          `yaml:"totpSecret"`
	JWTSecret     string          `yaml:"jwtSecret"`
	TokenTTLHours int             `yaml:"tokenTtlHours"`
	Accounts      []AccountConfig `yaml:"accounts"`
}

// AccountConfig additional non-admin account, typically a co-owner of the multisig
type AccountConfig struct {
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	Email        string   `yaml:"email"`
	Address      string   `yaml:"address"`
	Capabilities []string `yaml:"capabilities"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// LogConfig log level and format
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

var AppConfig *Config

// LoadConfig Load configuration file
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			logrus.Info("🔧 Using local configuration file: config.local.yaml")
		}
	}

	var config Config
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		logrus.Infof("✅ [%s] Loading configuration from config file: %s", time.Now().Format("2006-01-02 15:04:05"), configPath)
	case os.IsNotExist(err):
		logrus.Warnf("⚠️ Config file %s not found, using defaults and environment", configPath)
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	overrideFromEnv(&config)
	applyDefaults(&config)

	logrus.WithFields(logrus.Fields{
		"default_network": config.Blockchain.DefaultNetwork,
		"networks":        len(config.Blockchain.Networks),
		"gate_store":      config.SecurityGate.Store,
		"database":        config.Database.DSN != "",
	}).Info("📋 [Config] configuration loaded")

	AppConfig = &config
	return &config, nil
}

// applyDefaults fills zero values
func applyDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Blockchain.DefaultNetwork == "" {
		config.Blockchain.DefaultNetwork = "testnet"
	}
	if config.Blockchain.ContractsFile == "" {
		config.Blockchain.ContractsFile = "contract_addresses.yaml"
	}
	if config.Blockchain.ReceiptTimeout <= 0 {
		config.Blockchain.ReceiptTimeout = 120
	}
	if config.Blockchain.PollInterval <= 0 {
		config.Blockchain.PollInterval = 2000
	}
	if config.Blockchain.RetryAttempts <= 0 {
		config.Blockchain.RetryAttempts = 3
	}
	if config.Blockchain.Networks == nil {
		config.Blockchain.Networks = make(map[string]NetworkConfig)
	}
	for name, network := range config.Blockchain.Networks {
		if network.GasLimit == 0 {
			network.GasLimit = 21000
		}
		if network.SettlementGasLimit == 0 {
			network.SettlementGasLimit = 200000
		}
		if network.GasPriceMultiplier <= 0 {
			network.GasPriceMultiplier = 1.0
		}
		config.Blockchain.Networks[name] = network
	}
	if config.SecurityGate.OperationTTL <= 0 {
		config.SecurityGate.OperationTTL = 600
	}
	if config.SecurityGate.Store == "" {
		config.SecurityGate.Store = "memory"
	}
	if len(config.SecurityGate.HighRiskOperations) == 0 {
		config.SecurityGate.HighRiskOperations = []string{"settle_payment", "multisig_execute", "contract_update", "token_mint", "token_burn"}
	}
	if config.SecurityGate.NotificationChannel == "" {
		config.SecurityGate.NotificationChannel = "nats"
	}
	if config.Admin.Username == "" {
		config.Admin.Username = "admin"
	}
	if config.Admin.TokenTTLHours <= 0 {
		config.Admin.TokenTTLHours = 24
	}
	if config.Redis.Port == 0 {
		config.Redis.Port = 6379
	}
	if config.NATS.SubjectPrefix == "" {
		config.NATS.SubjectPrefix = "nvct"
	}
}

// overrideFromEnv Override configuration from environment
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if allow := os.Getenv("METRICS_ALLOWED_IPS"); allow != "" {
		config.Server.MetricsAllowlist = splitList(allow)
	}
	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		config.Server.TrustedProxies = splitList(proxies)
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		config.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			config.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.Redis.Password = redisPassword
	}

	if network := os.Getenv("ETHEREUM_NETWORK"); network != "" {
		config.Blockchain.DefaultNetwork = strings.ToLower(network)
	}
	if path := os.Getenv("CONTRACT_CONFIG_PATH"); path != "" {
		config.Blockchain.ContractsFile = path
	}

	for networkName, networkConfig := range config.Blockchain.Networks {
		upper := strings.ToUpper(networkName)

		envRPC := fmt.Sprintf("%s_RPC_ENDPOINTS", upper)
		if rpcEndpoints := os.Getenv(envRPC); rpcEndpoints != "" {
			networkConfig.RPCEndpoints = splitList(rpcEndpoints)
		}

		// private keys only ever come from the environment in production
		envKeys := fmt.Sprintf("%s_PRIVATE_KEYS", upper)
		if keys := os.Getenv(envKeys); keys != "" {
			networkConfig.PrivateKeys = splitList(keys)
			logrus.Infof("✅ [Config] Loaded %d private keys for network '%s' from %s", len(networkConfig.PrivateKeys), networkName, envKeys)
		}

		envGasPrice := fmt.Sprintf("%s_GAS_PRICE", upper)
		if gasPrice := os.Getenv(envGasPrice); gasPrice != "" {
			networkConfig.GasPrice = gasPrice
		}

		envGasLimit := fmt.Sprintf("%s_GAS_LIMIT", upper)
		if gasLimit := os.Getenv(envGasLimit); gasLimit != "" {
			if limit, err := strconv.ParseUint(gasLimit, 10, 64); err == nil {
				networkConfig.GasLimit = limit
			}
		}

		envOwners := fmt.Sprintf("%s_MULTISIG_OWNERS", upper)
		if owners := os.Getenv(envOwners); owners != "" {
			networkConfig.Multisig.Owners = splitList(owners)
		}

		config.Blockchain.Networks[networkName] = networkConfig
	}

	if op := os.Getenv("SECURITY_GATE_STORE"); op != "" {
		config.SecurityGate.Store = op
	}

	if username := os.Getenv("ADMIN_USERNAME"); username != "" {
		config.Admin.Username = username
	}
	if password := os.Getenv("ADMIN_PASSWORD"); password != "" {
		config.Admin.Password = password
	}
	if email := os.Getenv("ADMIN_EMAIL"); email != "" {
		config.Admin.Email = email
	}
	if address := os.Getenv("ADMIN_ADDRESS"); address != "" {
		config.Admin.Address = address
	}
	if secret := os.Getenv("ADMIN_TOTP_SECRET"); secret != "" {
		config.Admin.TOTPSecret = secret
	}
	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		config.Admin.JWTSecret = secret
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		config.CORS.AllowedOrigins = splitList(corsOrigins)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// GetNetworkConfig Get network configuration
func (c *Config) GetNetworkConfig(networkName string) (*NetworkConfig, error) {
	network, exists := c.Blockchain.Networks[networkName]
	if !exists {
		return nil, fmt.Errorf("network %s not found in config", networkName)
	}
	if !network.Enabled {
		return nil, fmt.Errorf("network %s is disabled", networkName)
	}
	return &network, nil
}

// TTL pending operation lifetime
func (s SecurityGateConfig) TTL() time.Duration {
	return time.Duration(s.OperationTTL) * time.Second
}

// ReceiptTimeoutDuration receipt wait budget
func (b BlockchainConfig) ReceiptTimeoutDuration() time.Duration {
	return time.Duration(b.ReceiptTimeout) * time.Second
}

// PollIntervalDuration receipt polling interval
func (b BlockchainConfig) PollIntervalDuration() time.Duration {
	return time.Duration(b.PollInterval) * time.Millisecond
}

// ConfigureLogger applies the log section to the standard logrus logger
func ConfigureLogger(cfg LogConfig) {
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if cfg.Level != "" {
		if level, err := logrus.ParseLevel(cfg.Level); err == nil {
			logrus.SetLevel(level)
		}
	}
}

// TokenTTL admin JWT lifetime
func (a AdminConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLHours) * time.Hour
}
