// Package config defines Mantle's runtime configuration and its loading
// layers.
//
// # Layering
//
// Configuration is assembled from four layers, lowest precedence first:
//
//  1. Built-in defaults from Default()
//  2. An optional YAML file passed via --config
//  3. MANTLE_* environment variables via ApplyEnv()
//  4. Command-line flags, parsed by cmd/mantle with the layered values
//     as flag defaults so only explicitly passed flags override
//
// Every flag has an environment mirror: --db-host becomes MANTLE_DB_HOST,
// --broker-url becomes MANTLE_BROKER_URL, and so on.
//
// # File format
//
// The config file is YAML (JSON parses too):
//
//	mqtt:
//	  broker_url: ssl://broker.plant.example:8883
//	  username: mantle
//	  password: secret
//	  shared_group: mantle-prod
//	  tls:
//	    ca_files: [/etc/mantle/broker-ca.pem]
//	db:
//	  host: timescale.plant.example
//	  name: mantle
//	  ssl: true
//	  ssl_ca: /etc/mantle/db-ca.pem
//	redis:
//	  url: redis://cache.plant.example:6379
//	webhook:
//	  url: https://hooks.example/alarms
//	  secret: hook-secret
//	  space_short_id: plant1
//	graphql:
//	  addr: ":4000"
//	historian: true
//
// # Validation
//
// Validate() checks each section and returns classified errors that wrap
// errors.ErrMissingConfig or errors.ErrInvalidConfig, so callers can tell
// an absent required field from a malformed one. Credential fields are
// masked by String() and Redacted(); never log the raw struct.
package config
