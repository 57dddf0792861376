// Package main is the entry point for the ThingHost server.
//
// The server supervises installed apps, reconciles the devices reported by
// each transport into one client list, and serves a REST API plus a
// streaming WebSocket feed for the desktop UI.
//
// Configuration comes from THINGHOST_* environment variables, an optional
// YAML or TOML file named by --config or THINGHOST_CONFIG, and finally the
// command line flags.
//
// Usage:
//
//	thinghost --apps-dir ./apps --data-dir ./data
//	thinghost --dev --port 9000
//	thinghost config --config thinghost.yaml
//
// SIGINT and SIGTERM shut the server down gracefully.
package main
