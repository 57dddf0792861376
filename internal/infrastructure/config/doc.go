// Package config provides 12-factor configuration for the ThingHost backend.
//
// Configuration is loaded from environment variables with defaults. When
// THINGHOST_CONFIG names a YAML or TOML file, the values it contains are
// applied on top of the environment.
//
// Configuration Sections:
//   - Server: HTTP API settings (port, host)
//   - Apps: App directory, data directory, protocol floor, grace periods, persistence debounce
//   - Platforms: WebSocket and ADB transport settings
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting for the HTTP API
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("API on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
