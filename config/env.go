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
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// envVarPattern matches ${VAR} or ${VAR:default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// LoadDotEnv loads a .env file into the process environment if present,
// ahead of ApplyEnvOverrides. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment
// variable values.
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// SubstituteEnvVarsInConfig recursively substitutes ${VAR} references in
// every string field of cfg that plausibly carries one.
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Server.ListenAddress = SubstituteEnvVars(cfg.Server.ListenAddress)
	cfg.Server.AdminDID = SubstituteEnvVars(cfg.Server.AdminDID)
	cfg.Database.URL = SubstituteEnvVars(cfg.Database.URL)
	cfg.Security.JWTAuthorizationSecret = SubstituteEnvVars(cfg.Security.JWTAuthorizationSecret)
	cfg.DIDResolver.Address = SubstituteEnvVars(cfg.DIDResolver.Address)
	cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
	cfg.Logging.Format = SubstituteEnvVars(cfg.Logging.Format)
	cfg.Logging.Output = SubstituteEnvVars(cfg.Logging.Output)
}

// ApplyEnvOverrides overlays ATM_-prefixed environment variables on top of
// the values already present in cfg, the way the teacher's deployment
// environment overrides a checked-in config file without editing it.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ATM_SERVER_LISTEN_ADDRESS"); v != "" {
		cfg.Server.ListenAddress = v
	}
	if v := os.Getenv("ATM_SERVER_API_PREFIX"); v != "" {
		cfg.Server.APIPrefix = v
	}
	if v := os.Getenv("ATM_SERVER_ADMIN_DID"); v != "" {
		cfg.Server.AdminDID = v
	}

	if v := os.Getenv("ATM_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("ATM_DATABASE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.PoolSize = n
		}
	}
	if v := os.Getenv("ATM_DATABASE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Database.Timeout = d
		}
	}

	if v := os.Getenv("ATM_SECURITY_ACL_MODE"); v != "" {
		cfg.Security.ACLMode = ACLMode(v)
	}
	if v := os.Getenv("ATM_SECURITY_JWT_AUTHORIZATION_SECRET"); v != "" {
		cfg.Security.JWTAuthorizationSecret = v
	}
	if v := os.Getenv("ATM_SECURITY_JWT_ACCESS_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.JWTAccessExpiry = d
		}
	}
	if v := os.Getenv("ATM_SECURITY_JWT_REFRESH_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.JWTRefreshExpiry = d
		}
	}

	if v := os.Getenv("ATM_STREAMING_ENABLED"); v != "" {
		cfg.Streaming.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ATM_STREAMING_UUID"); v != "" {
		cfg.Streaming.UUID = v
	}

	if v := os.Getenv("ATM_DID_RESOLVER_ADDRESS"); v != "" {
		cfg.DIDResolver.Address = v
	}
	if v := os.Getenv("ATM_DID_RESOLVER_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DIDResolver.CacheTTL = d
		}
	}

	if v := os.Getenv("ATM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ATM_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("ATM_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
}

// GetEnvironment returns the deployment environment name from ATM_ENV,
// defaulting to "development".
func GetEnvironment() string {
	env := os.Getenv("ATM_ENV")
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction reports whether GetEnvironment is "production".
func IsProduction() bool {
	return GetEnvironment() == "production"
}
