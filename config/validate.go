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

import "fmt"

// Validate checks cfg for the invariants the rest of the mediator assumes
// have already been enforced by the time it reads Config fields directly.
func Validate(cfg *Config) error {
	if cfg.Server.ListenAddress == "" {
		return fmt.Errorf("config: server.listen_address is required")
	}

	switch cfg.Security.ACLMode {
	case ACLModeExplicitAllow, ACLModeExplicitDeny:
	default:
		return fmt.Errorf("config: invalid security.acl_mode %q", cfg.Security.ACLMode)
	}

	if cfg.Security.JWTAuthorizationSecret == "" && IsProduction() {
		return fmt.Errorf("config: security.jwt_authorization_secret is required in production")
	}

	if cfg.Database.PoolSize <= 0 {
		return fmt.Errorf("config: database.pool_size must be greater than 0")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid logging.level %q", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: invalid logging.format %q", cfg.Logging.Format)
	}

	if cfg.Limits.MessageSize <= 0 {
		return fmt.Errorf("config: limits.message_size must be greater than 0")
	}

	if cfg.Streaming.Enabled && cfg.Streaming.UUID == "" {
		return fmt.Errorf("config: streaming.uuid is required when streaming.enabled is true")
	}

	return nil
}
