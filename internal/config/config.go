package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arkade-os/escrowd/internal/core/application"
	"github.com/arkade-os/escrowd/internal/core/ports"
	alertsmanager "github.com/arkade-os/escrowd/internal/infrastructure/alertsmanager"
	ethchain "github.com/arkade-os/escrowd/internal/infrastructure/chain/ethereum"
	localcustody "github.com/arkade-os/escrowd/internal/infrastructure/custody/local"
	remotecustody "github.com/arkade-os/escrowd/internal/infrastructure/custody/remote"
	"github.com/arkade-os/escrowd/internal/infrastructure/db"
	inmemorylivestore "github.com/arkade-os/escrowd/internal/infrastructure/live-store/inmemory"
	redislivestore "github.com/arkade-os/escrowd/internal/infrastructure/live-store/redis"
	logmessaging "github.com/arkade-os/escrowd/internal/infrastructure/messaging/logger"
	webhookmessaging "github.com/arkade-os/escrowd/internal/infrastructure/messaging/webhook"
	blockscheduler "github.com/arkade-os/escrowd/internal/infrastructure/scheduler/block"
	timescheduler "github.com/arkade-os/escrowd/internal/infrastructure/scheduler/gocron"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

var (
	supportedDbs = supportedType{
		"badger":   {},
		"sqlite":   {},
		"postgres": {},
	}
	supportedSchedulers = supportedType{
		"gocron": {},
		"block":  {},
	}
	supportedLiveStores = supportedType{
		"inmemory": {},
		"redis":    {},
	}
	supportedCustodies = supportedType{
		"remote": {},
		"local":  {},
	}
)

type Config struct {
	Datadir        string
	Port           uint32
	LogLevel       int
	EnableMetrics  bool
	RequestTimeout time.Duration
	WebhookSecret  string

	DbType              string
	DbDir               string
	DbUrl               string
	SchedulerType       string
	BlockTime           time.Duration
	LiveStoreType       string
	RedisUrl            string
	RedisTxNumOfRetries int

	EthRPCUrl      string
	ChainID        int64
	MaxGasPriceWei string
	ExplorerURL    string

	CustodyType      string
	CustodyUrl       string
	CustodyApiKey    string
	CustodyMasterKey string

	MessagingUrl    string
	MessagingToken  string
	BotNumber       string
	ClaimLinkPrefix string
	AlertManagerURL string

	HoldWindow         time.Duration
	SweepInterval      time.Duration
	SweepBatchSize     int
	SettlingTimeout    time.Duration
	ReconcileInterval  time.Duration
	ReconcileBatchSize int
	ConfirmationTTL    time.Duration
	RPCTimeout         time.Duration
	MaxEstimateRetries uint64
	SmallAmountFloor   decimal.Decimal
	ClaimPolicy        application.SettlementPolicy
	RefundPolicy       application.SettlementPolicy

	repo      ports.RepoManager
	svc       application.Service
	chain     ports.ChainClient
	custody   ports.WalletCustody
	messaging ports.MessagingGateway
	scheduler ports.SchedulerService
	liveStore ports.LiveStore
	alerts    ports.Alerts
}

func (c *Config) String() string {
	clone := *c
	if clone.CustodyApiKey != "" {
		clone.CustodyApiKey = "••••••"
	}
	if clone.CustodyMasterKey != "" {
		clone.CustodyMasterKey = "••••••"
	}
	if clone.MessagingToken != "" {
		clone.MessagingToken = "••••••"
	}
	if clone.WebhookSecret != "" {
		clone.WebhookSecret = "••••••"
	}
	clone.DbUrl = maskUrl(clone.DbUrl)
	clone.RedisUrl = maskUrl(clone.RedisUrl)
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	defaultDatadir             = appDataDir("escrowd")
	DefaultPort                = 7080
	defaultLogLevel            = 4
	defaultRequestTimeout      = 60 * time.Second
	defaultDbType              = "postgres"
	defaultSchedulerType       = "gocron"
	defaultBlockTime           = 12 * time.Second
	defaultLiveStoreType       = "redis"
	defaultRedisTxNumOfRetries = 10
	defaultChainID             = 1
	defaultExplorerURL         = "https://etherscan.io"
	defaultCustodyType         = "remote"
	defaultClaimLinkPrefix     = "https://wa.me/"
	defaultHoldWindow          = 72 * time.Hour
	defaultSweepInterval       = time.Minute
	defaultSweepBatchSize      = 50
	defaultSettlingTimeout     = 15 * time.Minute
	defaultReconcileInterval   = 30 * time.Second
	defaultReconcileBatchSize  = 100
	defaultConfirmationTTL     = 5 * time.Minute
	defaultRPCTimeout          = 10 * time.Second
	defaultMaxEstimateRetries  = uint64(3)
	defaultSmallAmountFloor    = "0.001"
	defaultEnableMetrics       = true
)

// env returns a list of strings prefixed with `ESCROWD_`.
// This is used as a syntax sugar for defining env vars.
func env(values ...string) []string {
	envs := make([]string, len(values))

	for i, value := range values {
		envs[i] = fmt.Sprintf("ESCROWD_%s", value)
	}

	return envs
}

var (
	ConfigFile = &cli.StringFlag{
		Usage: "Optional config file (yaml, json or toml), flags and env vars take precedence",
		Name:  "config", EnvVars: env("CONFIG"),
	}

	Datadir = &cli.StringFlag{
		Usage: "Directory to store data",
		Name:  "datadir", EnvVars: env("DATADIR"),
		Value: defaultDatadir,
	}

	Port = &cli.UintFlag{
		Usage: "Port to listen on",
		Name:  "port", EnvVars: env("PORT"),
		Value: uint(DefaultPort),
	}

	LogLevel = &cli.IntFlag{
		Usage: "Logging level (0-6, where 6 is trace)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}

	EnableMetrics = &cli.BoolFlag{
		Usage: "Expose prometheus metrics at /metrics",
		Name:  "enable-metrics", EnvVars: env("ENABLE_METRICS"),
		Value: defaultEnableMetrics,
	}

	RequestTimeout = &cli.DurationFlag{
		Usage: "Max duration of an api request",
		Name:  "request-timeout", EnvVars: env("REQUEST_TIMEOUT"),
		Value: defaultRequestTimeout,
	}

	WebhookSecret = &cli.StringFlag{
		Usage: "Secret signing api requests with HMAC-SHA256, at least 16 chars",
		Name:  "webhook-secret", EnvVars: env("WEBHOOK_SECRET"),
	}

	DbType = &cli.StringFlag{
		Usage: "Database type (postgres, sqlite, badger)",
		Name:  "db-type", EnvVars: env("DB_TYPE"),
		Value: defaultDbType,
	}

	DbUrl = &cli.StringFlag{
		Usage: "Postgres connection url if db type is postgres",
		Name:  "pg-db-url", EnvVars: env("PG_DB_URL"),
	}

	SchedulerType = &cli.StringFlag{
		Usage: "Scheduler type (gocron, block)",
		Name:  "scheduler-type", EnvVars: env("SCHEDULER_TYPE"),
		Value: defaultSchedulerType,
	}

	BlockTime = &cli.DurationFlag{
		Usage: "Expected time between blocks, used by the block scheduler",
		Name:  "block-time", EnvVars: env("BLOCK_TIME"),
		Value: defaultBlockTime,
	}

	LiveStoreType = &cli.StringFlag{
		Usage: "Live store type for pending confirmations (inmemory, redis)",
		Name:  "live-store-type", EnvVars: env("LIVE_STORE_TYPE"),
		Value: defaultLiveStoreType,
	}

	RedisUrl = &cli.StringFlag{
		Usage: "Redis connection url if live store type is redis",
		Name:  "redis-url", EnvVars: env("REDIS_URL"),
	}

	RedisTxNumOfRetries = &cli.IntFlag{
		Usage: "Max number of retries for redis writes",
		Name:  "redis-num-of-retries", EnvVars: env("REDIS_NUM_OF_RETRIES"),
		Value: defaultRedisTxNumOfRetries,
	}

	EthRPCUrl = &cli.StringFlag{
		Usage: "Ethereum json-rpc endpoint",
		Name:  "eth-rpc-url", EnvVars: env("ETH_RPC_URL"),
	}

	ChainID = &cli.Int64Flag{
		Usage: "Chain id used to sign transfers with the local custody",
		Name:  "chain-id", EnvVars: env("CHAIN_ID"),
		Value: int64(defaultChainID),
	}

	MaxGasPrice = &cli.StringFlag{
		Usage: "Optional cap in wei applied to gas price estimates",
		Name:  "max-gas-price", EnvVars: env("MAX_GAS_PRICE"),
	}

	ExplorerURL = &cli.StringFlag{
		Usage: "Block explorer linked from alerts",
		Name:  "explorer-url", EnvVars: env("EXPLORER_URL"),
		Value: defaultExplorerURL,
	}

	CustodyType = &cli.StringFlag{
		Usage: "Wallet custody type (remote, local)",
		Name:  "custody-type", EnvVars: env("CUSTODY_TYPE"),
		Value: defaultCustodyType,
	}

	CustodyUrl = &cli.StringFlag{
		Usage: "Remote custody service url",
		Name:  "custody-url", EnvVars: env("CUSTODY_URL"),
	}

	CustodyApiKey = &cli.StringFlag{
		Usage: "Api key for the remote custody service",
		Name:  "custody-api-key", EnvVars: env("CUSTODY_API_KEY"),
	}

	CustodyMasterKey = &cli.StringFlag{
		Usage: "Passphrase encrypting the keys of the local custody, at least 16 chars",
		Name:  "custody-master-key", EnvVars: env("CUSTODY_MASTER_KEY"),
	}

	MessagingUrl = &cli.StringFlag{
		Usage: "Webhook of the messaging transport, outbound messages are only logged if empty",
		Name:  "messaging-url", EnvVars: env("MESSAGING_URL"),
	}

	MessagingToken = &cli.StringFlag{
		Usage: "Bearer token for the messaging transport",
		Name:  "messaging-token", EnvVars: env("MESSAGING_TOKEN"),
	}

	BotNumber = &cli.StringFlag{
		Usage: "Phone number of the bot, used to build claim links",
		Name:  "bot-number", EnvVars: env("BOT_NUMBER"),
	}

	ClaimLinkPrefix = &cli.StringFlag{
		Usage: "Prefix of the claim links sent to recipients",
		Name:  "claim-link-prefix", EnvVars: env("CLAIM_LINK_PREFIX"),
		Value: defaultClaimLinkPrefix,
	}

	AlertManagerURL = &cli.StringFlag{
		Usage: "Alertmanager url, alerts are disabled if empty",
		Name:  "alert-manager-url", EnvVars: env("ALERT_MANAGER_URL"),
	}

	HoldWindow = &cli.DurationFlag{
		Usage: "How long held funds stay claimable before being refunded",
		Name:  "hold-window", EnvVars: env("HOLD_WINDOW"),
		Value: defaultHoldWindow,
	}

	SweepInterval = &cli.DurationFlag{
		Usage: "Interval between expiry sweeps",
		Name:  "sweep-interval", EnvVars: env("SWEEP_INTERVAL"),
		Value: defaultSweepInterval,
	}

	SweepBatchSize = &cli.IntFlag{
		Usage: "Max number of expired claims refunded per sweep",
		Name:  "sweep-batch-size", EnvVars: env("SWEEP_BATCH_SIZE"),
		Value: defaultSweepBatchSize,
	}

	SettlingTimeout = &cli.DurationFlag{
		Usage: "Age after which a claim stuck in settling is marked as failed",
		Name:  "settling-timeout", EnvVars: env("SETTLING_TIMEOUT"),
		Value: defaultSettlingTimeout,
	}

	ReconcileInterval = &cli.DurationFlag{
		Usage: "Interval between transaction status reconciliations",
		Name:  "reconcile-interval", EnvVars: env("RECONCILE_INTERVAL"),
		Value: defaultReconcileInterval,
	}

	ReconcileBatchSize = &cli.IntFlag{
		Usage: "Max number of pending transactions reconciled per run",
		Name:  "reconcile-batch-size", EnvVars: env("RECONCILE_BATCH_SIZE"),
		Value: defaultReconcileBatchSize,
	}

	ConfirmationTTL = &cli.DurationFlag{
		Usage: "How long a proposed operation waits for the requester's confirmation",
		Name:  "confirmation-ttl", EnvVars: env("CONFIRMATION_TTL"),
		Value: defaultConfirmationTTL,
	}

	SmallAmountFloor = &cli.StringFlag{
		Usage: "Amounts below this value require an extra confirmation",
		Name:  "small-amount-floor", EnvVars: env("SMALL_AMOUNT_FLOOR"),
		Value: defaultSmallAmountFloor,
	}

	RPCTimeout = &cli.DurationFlag{
		Usage: "Timeout of every chain and custody call",
		Name:  "rpc-timeout", EnvVars: env("RPC_TIMEOUT"),
		Value: defaultRPCTimeout,
	}

	MaxEstimateRetries = &cli.Uint64Flag{
		Usage: "Max number of retries of a failed fee estimation",
		Name:  "max-estimate-retries", EnvVars: env("MAX_ESTIMATE_RETRIES"),
		Value: defaultMaxEstimateRetries,
	}
)

var (
	claimPolicyFlags  = policyFlags("", "claims")
	refundPolicyFlags = policyFlags("refund-", "refunds")
)

var Flags = append([]cli.Flag{
	ConfigFile,
	Datadir,
	Port,
	LogLevel,
	EnableMetrics,
	RequestTimeout,
	DbType,
	DbUrl,
	SchedulerType,
	BlockTime,
	LiveStoreType,
	RedisUrl,
	RedisTxNumOfRetries,
	EthRPCUrl,
	ChainID,
	MaxGasPrice,
	ExplorerURL,
	CustodyType,
	CustodyUrl,
	CustodyApiKey,
	CustodyMasterKey,
	MessagingUrl,
	MessagingToken,
	WebhookSecret,
	BotNumber,
	ClaimLinkPrefix,
	AlertManagerURL,
	HoldWindow,
	SweepInterval,
	SweepBatchSize,
	SettlingTimeout,
	ReconcileInterval,
	ReconcileBatchSize,
	ConfirmationTTL,
	SmallAmountFloor,
	RPCTimeout,
	MaxEstimateRetries,
}, append(claimPolicyFlags.list(), refundPolicyFlags.list()...)...)

func LoadConfig(c *cli.Context) (*Config, error) {
	if err := loadConfigFile(c); err != nil {
		return nil, err
	}
	if err := initDatadir(c); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	dbPath := filepath.Join(c.String(Datadir.Name), "db")

	var dbUrl string
	if c.String(DbType.Name) == "postgres" {
		dbUrl = c.String(DbUrl.Name)
		if dbUrl == "" {
			return nil, fmt.Errorf("db type set to 'postgres' but db url is missing")
		}
	}

	var redisUrl string
	if c.String(LiveStoreType.Name) == "redis" {
		redisUrl = c.String(RedisUrl.Name)
		if redisUrl == "" {
			return nil, fmt.Errorf("live store type set to 'redis' but redis url is missing")
		}
	}

	smallAmountFloor, err := decimal.NewFromString(c.String(SmallAmountFloor.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid small amount floor: %s", err)
	}
	claimPolicy, err := claimPolicyFlags.parse(c)
	if err != nil {
		return nil, fmt.Errorf("invalid claim policy: %s", err)
	}
	refundPolicy, err := refundPolicyFlags.parse(c)
	if err != nil {
		return nil, fmt.Errorf("invalid refund policy: %s", err)
	}

	return &Config{
		Datadir:             c.String(Datadir.Name),
		Port:                uint32(c.Uint(Port.Name)),
		LogLevel:            c.Int(LogLevel.Name),
		EnableMetrics:       c.Bool(EnableMetrics.Name),
		RequestTimeout:      c.Duration(RequestTimeout.Name),
		DbType:              c.String(DbType.Name),
		DbDir:               dbPath,
		DbUrl:               dbUrl,
		SchedulerType:       c.String(SchedulerType.Name),
		BlockTime:           c.Duration(BlockTime.Name),
		LiveStoreType:       c.String(LiveStoreType.Name),
		RedisUrl:            redisUrl,
		RedisTxNumOfRetries: c.Int(RedisTxNumOfRetries.Name),
		EthRPCUrl:           c.String(EthRPCUrl.Name),
		ChainID:             c.Int64(ChainID.Name),
		MaxGasPriceWei:      c.String(MaxGasPrice.Name),
		ExplorerURL:         c.String(ExplorerURL.Name),
		CustodyType:         c.String(CustodyType.Name),
		CustodyUrl:          c.String(CustodyUrl.Name),
		CustodyApiKey:       c.String(CustodyApiKey.Name),
		CustodyMasterKey:    c.String(CustodyMasterKey.Name),
		MessagingUrl:        c.String(MessagingUrl.Name),
		MessagingToken:      c.String(MessagingToken.Name),
		WebhookSecret:       c.String(WebhookSecret.Name),
		BotNumber:           c.String(BotNumber.Name),
		ClaimLinkPrefix:     c.String(ClaimLinkPrefix.Name),
		AlertManagerURL:     c.String(AlertManagerURL.Name),
		HoldWindow:          c.Duration(HoldWindow.Name),
		SweepInterval:       c.Duration(SweepInterval.Name),
		SweepBatchSize:      c.Int(SweepBatchSize.Name),
		SettlingTimeout:     c.Duration(SettlingTimeout.Name),
		ReconcileInterval:   c.Duration(ReconcileInterval.Name),
		ReconcileBatchSize:  c.Int(ReconcileBatchSize.Name),
		ConfirmationTTL:     c.Duration(ConfirmationTTL.Name),
		RPCTimeout:          c.Duration(RPCTimeout.Name),
		MaxEstimateRetries:  c.Uint64(MaxEstimateRetries.Name),
		SmallAmountFloor:    smallAmountFloor,
		ClaimPolicy:         claimPolicy,
		RefundPolicy:        refundPolicy,
	}, nil
}

// loadConfigFile fills every flag that was not set on the command line or through env vars
// with the homonymous key of the config file, if any.
func loadConfigFile(c *cli.Context) error {
	path := c.String(ConfigFile.Name)
	if path == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %s", err)
	}

	for _, flag := range Flags {
		name := flag.Names()[0]
		if name == ConfigFile.Name || c.IsSet(name) || !v.IsSet(name) {
			continue
		}
		if err := c.Set(name, v.GetString(name)); err != nil {
			return fmt.Errorf("invalid value for %s in config file: %s", name, err)
		}
	}
	log.Debugf("loaded config file %s", path)
	return nil
}

func initDatadir(c *cli.Context) error {
	datadir := c.String(Datadir.Name)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0o755)
	}
	return nil
}

func (c *Config) Validate() error {
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedSchedulers.supports(c.SchedulerType) {
		return fmt.Errorf(
			"scheduler type not supported, please select one of: %s",
			supportedSchedulers,
		)
	}
	if !supportedLiveStores.supports(c.LiveStoreType) {
		return fmt.Errorf(
			"live store type not supported, please select one of: %s",
			supportedLiveStores,
		)
	}
	if !supportedCustodies.supports(c.CustodyType) {
		return fmt.Errorf(
			"custody type not supported, please select one of: %s",
			supportedCustodies,
		)
	}
	if c.EthRPCUrl == "" {
		return fmt.Errorf("missing eth rpc url")
	}
	if c.BotNumber == "" {
		return fmt.Errorf("missing bot number")
	}
	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.liveStoreService(); err != nil {
		return err
	}
	if err := c.chainService(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	if err := c.custodyService(); err != nil {
		return err
	}
	if err := c.messagingService(); err != nil {
		return err
	}
	if err := c.alertsService(); err != nil {
		return err
	}
	return nil
}

func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) repoManager() error {
	if c.repo != nil {
		return nil
	}

	var dataStoreConfig []interface{}
	logger := log.New()

	switch c.DbType {
	case "badger":
		dataStoreConfig = []interface{}{c.DbDir, logger}
	case "sqlite":
		dataStoreConfig = []interface{}{c.DbDir}
	case "postgres":
		dataStoreConfig = []interface{}{c.DbUrl, true}
	default:
		return fmt.Errorf("unknown db type")
	}

	if c.DbType != "postgres" {
		if err := makeDirectoryIfNotExists(c.DbDir); err != nil {
			return fmt.Errorf("failed to create db dir: %s", err)
		}
	}

	svc, err := db.NewService(db.ServiceConfig{
		DataStoreType:   c.DbType,
		DataStoreConfig: dataStoreConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) liveStoreService() error {
	if c.liveStore != nil {
		return nil
	}

	var liveStoreSvc ports.LiveStore
	switch c.LiveStoreType {
	case "inmemory":
		liveStoreSvc = inmemorylivestore.NewLiveStore()
	case "redis":
		redisOpts, err := redis.ParseURL(c.RedisUrl)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		liveStoreSvc = redislivestore.NewLiveStore(rdb, c.RedisTxNumOfRetries)
	default:
		return fmt.Errorf("unknown liveStore type")
	}

	c.liveStore = liveStoreSvc
	return nil
}

func (c *Config) chainService() error {
	if c.chain != nil {
		return nil
	}

	maxGasPrice, err := c.maxGasPrice()
	if err != nil {
		return err
	}
	opts := make([]ethchain.Option, 0)
	if maxGasPrice != nil {
		opts = append(opts, ethchain.WithMaxGasPrice(maxGasPrice))
	}

	svc, err := ethchain.NewChainClient(c.EthRPCUrl, opts...)
	if err != nil {
		return err
	}

	c.chain = svc
	return nil
}

// maxGasPrice returns the configured gas price cap in wei, nil if unset.
func (c *Config) maxGasPrice() (*big.Int, error) {
	if c.MaxGasPriceWei == "" {
		return nil, nil
	}
	maxGasPrice, ok := new(big.Int).SetString(c.MaxGasPriceWei, 10)
	if !ok || maxGasPrice.Sign() <= 0 {
		return nil, fmt.Errorf("invalid max gas price %s", c.MaxGasPriceWei)
	}
	return maxGasPrice, nil
}

func (c *Config) schedulerService() error {
	if c.scheduler != nil {
		return nil
	}

	var svc ports.SchedulerService
	var err error
	switch c.SchedulerType {
	case "gocron":
		svc = timescheduler.NewScheduler()
	case "block":
		svc, err = blockscheduler.NewScheduler(c.chain, c.BlockTime)
	default:
		err = fmt.Errorf("unknown scheduler type")
	}
	if err != nil {
		return err
	}

	c.scheduler = svc
	return nil
}

func (c *Config) custodyService() error {
	if c.custody != nil {
		return nil
	}

	var svc ports.WalletCustody
	var err error
	switch c.CustodyType {
	case "remote":
		svc, err = remotecustody.NewService(
			c.CustodyUrl, c.CustodyApiKey, remotecustody.WithTimeout(c.RPCTimeout),
		)
	case "local":
		var maxGasPrice *big.Int
		if maxGasPrice, err = c.maxGasPrice(); err != nil {
			return err
		}
		svc, err = localcustody.NewService(localcustody.Config{
			Datadir:     c.Datadir,
			MasterKey:   c.CustodyMasterKey,
			RPCURL:      c.EthRPCUrl,
			ChainID:     c.ChainID,
			MaxGasPrice: maxGasPrice,
			Logger:      log.New(),
		})
	default:
		err = fmt.Errorf("unknown custody type")
	}
	if err != nil {
		return err
	}

	c.custody = svc
	return nil
}

func (c *Config) messagingService() error {
	if c.messaging != nil {
		return nil
	}

	if c.MessagingUrl == "" {
		log.Warn("no messaging url set, outbound messages will only be logged")
		c.messaging = logmessaging.NewService()
		return nil
	}

	svc, err := webhookmessaging.NewService(c.MessagingUrl, c.MessagingToken)
	if err != nil {
		return err
	}
	c.messaging = svc
	return nil
}

func (c *Config) alertsService() error {
	if c.AlertManagerURL == "" {
		return nil
	}

	c.alerts = alertsmanager.NewService(c.AlertManagerURL, c.ExplorerURL)
	return nil
}

func (c *Config) appService() error {
	if err := c.Validate(); err != nil {
		return err
	}

	svc, err := application.NewService(
		c.repo, c.liveStore, c.custody, c.chain, c.messaging, c.scheduler, c.alerts,
		application.Config{
			HoldWindow:         c.HoldWindow,
			SweepInterval:      c.SweepInterval,
			SweepBatchSize:     c.SweepBatchSize,
			SettlingTimeout:    c.SettlingTimeout,
			ReconcileInterval:  c.ReconcileInterval,
			ReconcileBatchSize: c.ReconcileBatchSize,
			ConfirmationTTL:    c.ConfirmationTTL,
			RPCTimeout:         c.RPCTimeout,
			MaxEstimateRetries: c.MaxEstimateRetries,
			SmallAmountFloor:   c.SmallAmountFloor,
			ClaimPolicy:        c.ClaimPolicy,
			RefundPolicy:       c.RefundPolicy,
			BotNumber:          c.BotNumber,
			ClaimLinkPrefix:    c.ClaimLinkPrefix,
		},
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
