package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML configuration file layout.
type fileConfig struct {
	DataDir string `yaml:"dataDir"`

	Node struct {
		URL           string `yaml:"url"`
		Network       string `yaml:"network"`
		RateLimit     int    `yaml:"rateLimit"`
		Confirmations *int64 `yaml:"confirmations"`
	} `yaml:"node"`

	Scan struct {
		Tokens     []string `yaml:"tokens"`
		ChunkSize  uint64   `yaml:"chunkSize"`
		StartBlock uint64   `yaml:"startBlock"`
		Interval   string   `yaml:"interval"`
	} `yaml:"scan"`

	API struct {
		ListenAddr string `yaml:"listenAddr"`
		Token      string `yaml:"token"`
	} `yaml:"api"`

	Metrics struct {
		Enabled *bool  `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	Broadcast struct {
		KeyFile  string `yaml:"keyFile"`
		GasLimit uint64 `yaml:"gasLimit"`
	} `yaml:"broadcast"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// applyFile merges a YAML config file into cfg. Only set fields override.
func applyFile(cfg AppConfig, path string) (AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.Node.URL != "" {
		cfg.NodeURL = fc.Node.URL
	}
	if fc.Node.Network != "" {
		cfg.Network = fc.Node.Network
	}
	if fc.Node.RateLimit > 0 {
		cfg.RPCRateLimit = float64(fc.Node.RateLimit)
	}
	if fc.Node.Confirmations != nil && *fc.Node.Confirmations >= 0 {
		cfg.Confirmations = uint64(*fc.Node.Confirmations)
	}
	if len(fc.Scan.Tokens) > 0 {
		cfg.Tokens = fc.Scan.Tokens
	}
	if fc.Scan.ChunkSize > 0 {
		cfg.ChunkSize = fc.Scan.ChunkSize
	}
	if fc.Scan.StartBlock > 0 {
		cfg.StartBlock = fc.Scan.StartBlock
	}
	if fc.Scan.Interval != "" {
		d, err := time.ParseDuration(fc.Scan.Interval)
		if err != nil {
			return cfg, fmt.Errorf("parse scan.interval %q: %w", fc.Scan.Interval, err)
		}
		cfg.ScanInterval = d
	}
	if fc.API.ListenAddr != "" {
		cfg.APIListenAddr = fc.API.ListenAddr
	}
	if fc.API.Token != "" {
		cfg.APIToken = fc.API.Token
	}
	if fc.Metrics.Enabled != nil {
		cfg.MetricsEnabled = *fc.Metrics.Enabled
	}
	if fc.Metrics.Addr != "" {
		cfg.MetricsAddr = fc.Metrics.Addr
	}
	if fc.Broadcast.KeyFile != "" {
		cfg.KeyFile = fc.Broadcast.KeyFile
	}
	if fc.Broadcast.GasLimit > 0 {
		cfg.GasLimit = fc.Broadcast.GasLimit
	}
	if fc.Log.Level != "" {
		cfg.LogLevel = fc.Log.Level
	}
	return cfg, nil
}
