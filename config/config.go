// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the mediator process's full runtime configuration. It is
// loaded from a YAML or JSON file, then overridden by ATM_-prefixed
// environment variables.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Security   SecurityConfig   `yaml:"security" json:"security"`
	Streaming  StreamingConfig  `yaml:"streaming" json:"streaming"`
	DIDResolver DIDResolverConfig `yaml:"did_resolver" json:"did_resolver"`
	Limits     LimitsConfig     `yaml:"limits" json:"limits"`
	Processors ProcessorsConfig `yaml:"processors" json:"processors"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ServerConfig controls the HTTP/WS listener.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
	APIPrefix     string `yaml:"api_prefix" json:"api_prefix"`
	AdminDID      string `yaml:"admin_did" json:"admin_did"`
}

// DatabaseConfig points at the QueueStore backend.
type DatabaseConfig struct {
	URL      string        `yaml:"url" json:"url"`
	PoolSize int           `yaml:"pool_size" json:"pool_size"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// ACLMode selects whether an unlisted DID is allowed or denied by default.
type ACLMode string

const (
	ACLModeExplicitAllow ACLMode = "explicit_allow"
	ACLModeExplicitDeny  ACLMode = "explicit_deny"
)

// SecurityConfig carries the ACL default and session token secrets.
type SecurityConfig struct {
	ACLMode               ACLMode       `yaml:"acl_mode" json:"acl_mode"`
	JWTAuthorizationSecret string       `yaml:"jwt_authorization_secret" json:"jwt_authorization_secret"`
	JWTAccessExpiry        time.Duration `yaml:"jwt_access_expiry" json:"jwt_access_expiry"`
	JWTRefreshExpiry       time.Duration `yaml:"jwt_refresh_expiry" json:"jwt_refresh_expiry"`
}

// StreamingConfig controls live delivery over a persistent transport.
type StreamingConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	UUID    string `yaml:"uuid" json:"uuid"`
}

// DIDResolverConfig controls the verification-method resolver cache and
// the network fetch it falls back to.
type DIDResolverConfig struct {
	CacheCapacity  int           `yaml:"cache_capacity" json:"cache_capacity"`
	CacheTTL       time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	NetworkTimeout time.Duration `yaml:"network_timeout" json:"network_timeout"`
	NetworkLimit   int           `yaml:"network_limit" json:"network_limit"`
	Address        string        `yaml:"address" json:"address"`
}

// LimitsConfig bounds the resources a single message or connection may
// consume, per the mediator's resource model.
type LimitsConfig struct {
	AttachmentsMaxCount        int `yaml:"attachments_max_count" json:"attachments_max_count"`
	CryptoOperationsPerMessage int `yaml:"crypto_operations_per_message" json:"crypto_operations_per_message"`
	DeletedMessages            int `yaml:"deleted_messages" json:"deleted_messages"`
	ForwardTaskQueue           int `yaml:"forward_task_queue" json:"forward_task_queue"`
	HTTPSize                   int `yaml:"http_size" json:"http_size"`
	ListedMessages             int `yaml:"listed_messages" json:"listed_messages"`
	LocalMaxACL                int `yaml:"local_max_acl" json:"local_max_acl"`
	MessageExpiryMinutes       int `yaml:"message_expiry_minutes" json:"message_expiry_minutes"`
	MessageSize                int `yaml:"message_size" json:"message_size"`
	QueuedMessages             int `yaml:"queued_messages" json:"queued_messages"`
	ToKeysPerRecipient         int `yaml:"to_keys_per_recipient" json:"to_keys_per_recipient"`
	ToRecipients               int `yaml:"to_recipients" json:"to_recipients"`
	WSSize                     int `yaml:"ws_size" json:"ws_size"`
}

// ProcessorsConfig groups background task settings.
type ProcessorsConfig struct {
	Forwarding ForwardingConfig `yaml:"forwarding" json:"forwarding"`
}

// ForwardingConfig controls the routing/2.0/forward re-wrap task.
type ForwardingConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	FutureTimeLimit time.Duration `yaml:"future_time_limit" json:"future_time_limit"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Load reads a YAML (or, failing that, JSON) config file at path, applies
// defaults for anything left zero, then overlays ATM_-prefixed environment
// variables and ${VAR} substitutions before validating the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		if jsonErr := json.Unmarshal(raw, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config file (yaml: %v, json: %w)", err, jsonErr)
		}
	}

	setDefaults(cfg)
	SubstituteEnvVarsInConfig(cfg)
	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults fills in the zero-value fields of cfg with the mediator's
// shipped defaults, the way a freshly generated config file would read.
func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = "0.0.0.0:8080"
	}
	if cfg.Server.APIPrefix == "" {
		cfg.Server.APIPrefix = "/mediator"
	}

	if cfg.Database.PoolSize == 0 {
		cfg.Database.PoolSize = 10
	}
	if cfg.Database.Timeout == 0 {
		cfg.Database.Timeout = 5 * time.Second
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = "memory://"
	}

	if cfg.Security.ACLMode == "" {
		cfg.Security.ACLMode = ACLModeExplicitDeny
	}
	if cfg.Security.JWTAccessExpiry == 0 {
		cfg.Security.JWTAccessExpiry = 15 * time.Minute
	}
	if cfg.Security.JWTRefreshExpiry == 0 {
		cfg.Security.JWTRefreshExpiry = 7 * 24 * time.Hour
	}

	if cfg.DIDResolver.CacheCapacity == 0 {
		cfg.DIDResolver.CacheCapacity = 1000
	}
	if cfg.DIDResolver.CacheTTL == 0 {
		cfg.DIDResolver.CacheTTL = time.Hour
	}
	if cfg.DIDResolver.NetworkTimeout == 0 {
		cfg.DIDResolver.NetworkTimeout = 10 * time.Second
	}
	if cfg.DIDResolver.NetworkLimit == 0 {
		cfg.DIDResolver.NetworkLimit = 100
	}

	if cfg.Limits.AttachmentsMaxCount == 0 {
		cfg.Limits.AttachmentsMaxCount = 20
	}
	if cfg.Limits.CryptoOperationsPerMessage == 0 {
		cfg.Limits.CryptoOperationsPerMessage = 10
	}
	if cfg.Limits.DeletedMessages == 0 {
		cfg.Limits.DeletedMessages = 100
	}
	if cfg.Limits.ForwardTaskQueue == 0 {
		cfg.Limits.ForwardTaskQueue = 50000
	}
	if cfg.Limits.HTTPSize == 0 {
		cfg.Limits.HTTPSize = 10 * 1024 * 1024
	}
	if cfg.Limits.ListedMessages == 0 {
		cfg.Limits.ListedMessages = 100
	}
	if cfg.Limits.LocalMaxACL == 0 {
		cfg.Limits.LocalMaxACL = 1000
	}
	if cfg.Limits.MessageExpiryMinutes == 0 {
		cfg.Limits.MessageExpiryMinutes = 2880
	}
	if cfg.Limits.MessageSize == 0 {
		cfg.Limits.MessageSize = 1024 * 1024
	}
	if cfg.Limits.QueuedMessages == 0 {
		cfg.Limits.QueuedMessages = 100
	}
	if cfg.Limits.ToKeysPerRecipient == 0 {
		cfg.Limits.ToKeysPerRecipient = 100
	}
	if cfg.Limits.ToRecipients == 0 {
		cfg.Limits.ToRecipients = 100
	}
	if cfg.Limits.WSSize == 0 {
		cfg.Limits.WSSize = 10 * 1024 * 1024
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// Save writes cfg back out as YAML, mirroring the shape Load expects.
func Save(path string, cfg *Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
