package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joyautomation/mantle/config"
)

// options holds flags that steer the process rather than configure
// components.
type options struct {
	configPath      string
	migrate         bool
	validate        bool
	showVersion     bool
	showHelp        bool
	shutdownTimeout time.Duration
}

// parseFlags resolves the effective configuration. Precedence from
// lowest to highest: built-in defaults, the optional YAML config file,
// MANTLE_* environment variables, command-line flags.
func parseFlags(args []string) (*config.Config, *options, error) {
	opts := &options{}

	// The config file must load before flag defaults are computed, so
	// --config is found without a full parse.
	path := preScanConfigPath(args)
	var cfg *config.Config
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
		opts.configPath = path
	} else {
		cfg = config.Default()
	}
	cfg.ApplyEnv()

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.Usage = func() { printUsage(fs.Output()) }

	fs.StringVar(&opts.configPath, "config", opts.configPath,
		"Path to YAML config file, lowest precedence (env: MANTLE_CONFIG)")
	fs.StringVar(&opts.configPath, "c", opts.configPath,
		"Path to YAML config file (shorthand)")

	// MQTT
	fs.StringVar(&cfg.MQTT.BrokerURL, "broker-url", cfg.MQTT.BrokerURL,
		"MQTT broker URL (env: MANTLE_BROKER_URL)")
	fs.StringVar(&cfg.MQTT.Username, "username", cfg.MQTT.Username,
		"MQTT username (env: MANTLE_USERNAME)")
	fs.StringVar(&cfg.MQTT.Password, "password", cfg.MQTT.Password,
		"MQTT password (env: MANTLE_PASSWORD)")
	fs.StringVar(&cfg.MQTT.ClientID, "client-id", cfg.MQTT.ClientID,
		"MQTT client id, random suffix when empty (env: MANTLE_CLIENT_ID)")
	fs.StringVar(&cfg.MQTT.SharedGroup, "shared-group", cfg.MQTT.SharedGroup,
		"Shared subscription group, empty disables (env: MANTLE_SHARED_GROUP)")

	// Storage
	fs.StringVar(&cfg.DB.Host, "db-host", cfg.DB.Host,
		"Database host (env: MANTLE_DB_HOST)")
	fs.IntVar(&cfg.DB.Port, "db-port", cfg.DB.Port,
		"Database port (env: MANTLE_DB_PORT)")
	fs.StringVar(&cfg.DB.User, "db-user", cfg.DB.User,
		"Database user (env: MANTLE_DB_USER)")
	fs.StringVar(&cfg.DB.Password, "db-password", cfg.DB.Password,
		"Database password (env: MANTLE_DB_PASSWORD)")
	fs.StringVar(&cfg.DB.Name, "db-name", cfg.DB.Name,
		"Database name (env: MANTLE_DB_NAME)")
	fs.BoolVar(&cfg.DB.SSL, "db-ssl", cfg.DB.SSL,
		"Require TLS for the database connection (env: MANTLE_DB_SSL)")
	fs.StringVar(&cfg.DB.SSLCA, "db-ssl-ca", cfg.DB.SSLCA,
		"PEM CA file for database TLS (env: MANTLE_DB_SSL_CA)")
	fs.StringVar(&cfg.DB.AdminName, "db-admin-name", cfg.DB.AdminName,
		"Admin database used by --migrate to create the target (env: MANTLE_DB_ADMIN_NAME)")

	// Hot cache
	fs.StringVar(&cfg.Redis.URL, "redis-url", cfg.Redis.URL,
		"Redis URL for the hot cache, empty disables (env: MANTLE_REDIS_URL)")

	// Webhook
	fs.StringVar(&cfg.Webhook.URL, "webhook-url", cfg.Webhook.URL,
		"Alarm webhook endpoint, empty disables (env: MANTLE_WEBHOOK_URL)")
	fs.StringVar(&cfg.Webhook.Secret, "webhook-secret", cfg.Webhook.Secret,
		"Shared secret sent with webhook posts (env: MANTLE_WEBHOOK_SECRET)")
	fs.StringVar(&cfg.Webhook.SpaceShortID, "space-short-id", cfg.Webhook.SpaceShortID,
		"Installation identifier included in webhook posts (env: MANTLE_SPACE_SHORT_ID)")

	// Gateway
	fs.StringVar(&cfg.GraphQL.Addr, "graphql-addr", cfg.GraphQL.Addr,
		"GraphQL listen address (env: MANTLE_GRAPHQL_ADDR)")
	fs.BoolVar(&cfg.GraphQL.Playground, "playground", cfg.GraphQL.Playground,
		"Serve the GraphQL playground on / (env: MANTLE_PLAYGROUND)")

	// Logging
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level,
		"Log level: debug, info, warn, error (env: MANTLE_LOG_LEVEL)")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format,
		"Log format: json, text (env: MANTLE_LOG_FORMAT)")

	// Behavior
	fs.BoolVar(&cfg.Historian, "historian", cfg.Historian,
		"Insert history rows; false keeps topology, properties, and alarms only (env: MANTLE_HISTORIAN)")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort,
		"Prometheus metrics port, 0 disables (env: MANTLE_METRICS_PORT)")

	// Process control
	fs.BoolVar(&opts.migrate, "migrate", false,
		"Create the database if needed, apply migrations, and exit")
	fs.BoolVar(&opts.validate, "validate", false,
		"Validate configuration and exit")
	fs.DurationVar(&opts.shutdownTimeout, "shutdown-timeout",
		envDuration("MANTLE_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: MANTLE_SHUTDOWN_TIMEOUT)")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version information")
	fs.BoolVar(&opts.showVersion, "v", false, "Show version information")
	fs.BoolVar(&opts.showHelp, "help", false, "Show help information")
	fs.BoolVar(&opts.showHelp, "h", false, "Show help information")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if opts.showHelp {
		fs.Usage()
	}
	return cfg, opts, nil
}

// preScanConfigPath finds --config before the full parse, because the
// file's contents become the defaults for every other flag. The
// MANTLE_CONFIG environment variable is the fallback.
func preScanConfigPath(args []string) string {
	path := os.Getenv("MANTLE_CONFIG")
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" || arg == "-config" || arg == "-c":
			if i+1 < len(args) {
				path = args[i+1]
			}
		case strings.HasPrefix(arg, "--config="):
			path = strings.TrimPrefix(arg, "--config=")
		case strings.HasPrefix(arg, "-config="):
			path = strings.TrimPrefix(arg, "-config=")
		case strings.HasPrefix(arg, "-c="):
			path = strings.TrimPrefix(arg, "-c=")
		}
	}
	return path
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - Sparkplug-B historian and alarm server

Usage: %s [options]

Every option falls back to its MANTLE_* environment variable; values
from --config load below the environment, and flags given on the
command line win over both.

MQTT:
  --broker-url        MQTT broker URL (default tcp://localhost:1883)
  --username          MQTT username
  --password          MQTT password
  --client-id         MQTT client id, random suffix when empty
  --shared-group      Shared subscription group, empty disables

Storage:
  --db-host           Database host (default localhost)
  --db-port           Database port (default 5432)
  --db-user           Database user (default postgres)
  --db-password       Database password
  --db-name           Database name (default mantle)
  --db-ssl            Require TLS for the database connection
  --db-ssl-ca         PEM CA file for database TLS
  --db-admin-name     Admin database used by --migrate (default postgres)

Hot cache:
  --redis-url         Redis URL, empty disables the hot cache

Webhook:
  --webhook-url       Alarm webhook endpoint, empty disables
  --webhook-secret    Shared secret sent with webhook posts
  --space-short-id    Installation identifier included in posts

Gateway:
  --graphql-addr      GraphQL listen address (default :4000)
  --playground        Serve the GraphQL playground on /

Observability:
  --log-level         debug, info, warn, error (default info)
  --log-format        json, text (default text)
  --metrics-port      Prometheus metrics port, 0 disables (default 9090)

Process:
  --config, -c        YAML config file, lowest precedence
  --historian         Insert history rows (default true)
  --migrate           Create the database, apply migrations, exit
  --validate          Validate configuration and exit
  --shutdown-timeout  Graceful shutdown timeout (default 30s)
  --version, -v       Show version information
  --help, -h          Show this help

Examples:
  # Run against a local broker and database
  %s --broker-url=tcp://localhost:1883 --db-name=mantle

  # Apply migrations and exit
  %s --migrate

  # Environment variables instead of flags
  export MANTLE_BROKER_URL=ssl://broker.plant.example:8883
  export MANTLE_DB_HOST=timescale.plant.example
  %s

Version: %s
Build: %s
`, appName, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// envDuration reads a duration from the environment for flags that are
// not part of the component configuration.
func envDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
