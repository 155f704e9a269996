// Package config handles configuration loading for chat-gateway.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files (chosen by the .toml
// extension) with environment variable expansion, defaults and validation.
//
// # Configuration File
//
// ResolvePath picks the file in this order:
//
//  1. Path passed on the command line
//  2. Path from CHAT_GATEWAY_CONFIG
//  3. ./config.yaml, then ./config.toml
//  4. ~/.config/chat-gateway/gateway.yaml
//
// # Environment Variables
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	auth:
//	  jwt_secret: "${CHAT_JWT_SECRET}"
//
// CHAT_DB_PATH and MONGODB_URI override database.path and database.uri.
//
// # Sections
//
//	server:
//	  http_addr: "0.0.0.0:8000"
//
//	database:
//	  driver: "sqlite"       # sqlite or mongo
//	  path: "chat-gateway.db"
//	  uri: "${MONGODB_URI}"
//	  name: "chat_application"
//
//	auth:
//	  mode: "token"          # token or insecure
//	  jwt_secret: "${CHAT_JWT_SECRET}"
//	  token_ttl: "24h"
//
//	sessions:
//	  write_timeout: "10s"
//	  request_timeout: "5s"
//	  ping_interval: "30s"
//	  pong_timeout: "60s"
//	  read_limit: 1048576
//	  send_buffer: 128
//	  close_superseded: false
//	  dedupe_ttl: "5m"
//	  dedupe_size: 10000
//
// # Validation
//
// Load rejects a token-mode config whose jwt_secret is shorter than 32 bytes,
// a ping_interval that is not shorter than pong_timeout, unknown drivers,
// auth modes and log levels, and a mongo driver without a URI.
package config
