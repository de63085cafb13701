// Package config loads and validates application configuration.
//
// Values come from built-in defaults, then an optional YAML file named by
// PRIZM_CONFIG_FILE, then PRIZM_* environment variables, which win.
//
// Server settings:
//
//	PRIZM_HOST="0.0.0.0"
//	PRIZM_PORT="8080"
//	PRIZM_USER_ID_HEADER="X-User-ID"
//
// Database settings:
//
//	PRIZM_DATABASE_URL="postgres://localhost/prizm?sslmode=disable"
//	PRIZM_DATABASE_MAX_OPEN_CONNS="20"
//	PRIZM_DATABASE_AUTO_MIGRATE="true"
//
// Access cache settings:
//
//	PRIZM_CACHE_BACKEND="tiered"  # memory, redis, tiered, none
//	PRIZM_CACHE_TTL="1h"
//	PRIZM_CACHE_L1_SIZE="10000"
//	PRIZM_CACHE_L1_TTL="30s"
//	PRIZM_REDIS_URL="redis://localhost:6379"
//
// Observability settings:
//
//	PRIZM_LOG_LEVEL="info"
//	PRIZM_OTEL_ENABLED="true"
//	PRIZM_OTEL_ENDPOINT="otel-collector:4317"
//
// The equivalent YAML file:
//
//	server:
//	  port: "8080"
//	database:
//	  url: postgres://localhost/prizm
//	cache:
//	  backend: tiered
//	  ttl: 1h
//	  l1_ttl: 30s
package config
