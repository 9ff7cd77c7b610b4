// Package config provides configuration management for stoscan.
//
// Precedence is ENV > file > defaults. All environment variables carry the
// STOSCAN_ prefix.
package config

import (
	"path/filepath"
	"time"
)

// AppConfig is the effective application configuration shared by the daemon
// and the CLI.
type AppConfig struct {
	// Storage
	DataDir      string // base directory for all mutable state
	DatabasePath string // sqlite database file
	CachePath    string // badger block-timestamp cache directory

	// Chain access
	NodeURL       string  // Ethereum JSON-RPC endpoint
	Network       string  // network name recorded with every scan row
	RPCRateLimit  float64 // node requests per second (0 disables limiting)
	Confirmations uint64  // blocks held back from head for reorg safety

	// Scanning
	Tokens       []string      // token contract addresses to scan
	ChunkSize    uint64        // blocks per FilterLogs window
	StartBlock   uint64        // first block of interest for fresh tokens
	ScanInterval time.Duration // periodic scan cadence in the daemon

	// API
	APIListenAddr string
	APIToken      string // empty disables auth (reported as a warning)

	// Metrics
	MetricsEnabled bool
	MetricsAddr    string

	// Broadcast
	KeyFile  string // hex-encoded private key file for distribution broadcast
	GasLimit uint64

	// Observability
	LogLevel   string
	LogService string

	// Version is the build version, injected by the binary.
	Version string
}

// Environment variable names.
const (
	EnvDataDir       = "STOSCAN_DATA"
	EnvDatabasePath  = "STOSCAN_DB"
	EnvCachePath     = "STOSCAN_CACHE"
	EnvNodeURL       = "STOSCAN_NODE_URL"
	EnvNetwork       = "STOSCAN_NETWORK"
	EnvRPCRateLimit  = "STOSCAN_RPC_RATE"
	EnvConfirmations = "STOSCAN_CONFIRMATIONS"
	EnvTokens        = "STOSCAN_TOKENS"
	EnvChunkSize     = "STOSCAN_CHUNK_SIZE"
	EnvStartBlock    = "STOSCAN_START_BLOCK"
	EnvScanInterval  = "STOSCAN_SCAN_INTERVAL"
	EnvListen        = "STOSCAN_LISTEN"
	EnvAPIToken      = "STOSCAN_API_TOKEN"
	EnvMetrics       = "STOSCAN_METRICS"
	EnvMetricsAddr   = "STOSCAN_METRICS_ADDR"
	EnvKeyFile       = "STOSCAN_KEY_FILE"
	EnvGasLimit      = "STOSCAN_GAS_LIMIT"
	EnvLogLevel      = "STOSCAN_LOG_LEVEL"
)

// Defaults returns the built-in configuration defaults.
func Defaults() AppConfig {
	dataDir := "data"
	return AppConfig{
		DataDir:        dataDir,
		DatabasePath:   filepath.Join(dataDir, "stoscan.db"),
		CachePath:      filepath.Join(dataDir, "cache"),
		NodeURL:        "http://localhost:8545",
		Network:        "ethereum",
		RPCRateLimit:   10,
		Confirmations:  12,
		ChunkSize:      5000,
		StartBlock:     0,
		ScanInterval:   5 * time.Minute,
		APIListenAddr:  ":8080",
		MetricsEnabled: true,
		MetricsAddr:    ":9090",
		GasLimit:       21000,
		LogLevel:       "info",
		LogService:     "stoscan",
	}
}

// FromEnv applies environment overrides on top of the given config.
func FromEnv(cfg AppConfig) AppConfig {
	cfg.DataDir = ParseString(EnvDataDir, cfg.DataDir)

	// Derived defaults follow an overridden data dir unless set explicitly.
	cfg.DatabasePath = ParseString(EnvDatabasePath, filepath.Join(cfg.DataDir, "stoscan.db"))
	cfg.CachePath = ParseString(EnvCachePath, filepath.Join(cfg.DataDir, "cache"))

	cfg.NodeURL = ParseString(EnvNodeURL, cfg.NodeURL)
	cfg.Network = ParseString(EnvNetwork, cfg.Network)
	cfg.RPCRateLimit = float64(ParseInt(EnvRPCRateLimit, int(cfg.RPCRateLimit)))
	cfg.Confirmations = ParseUint64(EnvConfirmations, cfg.Confirmations)
	cfg.Tokens = ParseStringList(EnvTokens, cfg.Tokens)
	cfg.ChunkSize = ParseUint64(EnvChunkSize, cfg.ChunkSize)
	cfg.StartBlock = ParseUint64(EnvStartBlock, cfg.StartBlock)
	cfg.ScanInterval = ParseDuration(EnvScanInterval, cfg.ScanInterval)
	cfg.APIListenAddr = ParseString(EnvListen, cfg.APIListenAddr)
	cfg.APIToken = ParseString(EnvAPIToken, cfg.APIToken)
	cfg.MetricsEnabled = ParseBool(EnvMetrics, cfg.MetricsEnabled)
	cfg.MetricsAddr = ParseString(EnvMetricsAddr, cfg.MetricsAddr)
	cfg.KeyFile = ParseString(EnvKeyFile, cfg.KeyFile)
	cfg.GasLimit = ParseUint64(EnvGasLimit, cfg.GasLimit)
	cfg.LogLevel = ParseString(EnvLogLevel, cfg.LogLevel)
	return cfg
}
