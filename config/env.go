package config

import (
	"os"
	"strconv"
	"strings"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "MANTLE"

// ApplyEnv overlays MANTLE_* environment variables onto the config. Every
// command-line flag has a mirror here; cmd/mantle applies env below flags
// so the CLI always wins.
func (c *Config) ApplyEnv() {
	envString(&c.MQTT.BrokerURL, "BROKER_URL")
	envString(&c.MQTT.Username, "USERNAME")
	envString(&c.MQTT.Password, "PASSWORD")
	envString(&c.MQTT.ClientID, "CLIENT_ID")
	envString(&c.MQTT.SharedGroup, "SHARED_GROUP")

	envString(&c.DB.Host, "DB_HOST")
	envInt(&c.DB.Port, "DB_PORT")
	envString(&c.DB.User, "DB_USER")
	envString(&c.DB.Password, "DB_PASSWORD")
	envString(&c.DB.Name, "DB_NAME")
	envBool(&c.DB.SSL, "DB_SSL")
	envString(&c.DB.SSLCA, "DB_SSL_CA")
	envString(&c.DB.AdminName, "DB_ADMIN_NAME")

	envString(&c.Redis.URL, "REDIS_URL")
	envInt(&c.Redis.MaxRetries, "REDIS_MAX_RETRIES")

	envString(&c.Webhook.URL, "WEBHOOK_URL")
	envString(&c.Webhook.Secret, "WEBHOOK_SECRET")
	envString(&c.Webhook.SpaceShortID, "SPACE_SHORT_ID")

	envString(&c.GraphQL.Addr, "GRAPHQL_ADDR")
	envBool(&c.GraphQL.Playground, "PLAYGROUND")

	envString(&c.Log.Level, "LOG_LEVEL")
	envString(&c.Log.Format, "LOG_FORMAT")

	envBool(&c.Historian, "HISTORIAN")
	envInt(&c.MetricsPort, "METRICS_PORT")
}

func envString(dst *string, name string) {
	if val, ok := os.LookupEnv(EnvPrefix + "_" + name); ok {
		*dst = val
	}
}

func envInt(dst *int, name string) {
	if val, ok := os.LookupEnv(EnvPrefix + "_" + name); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, name string) {
	if val, ok := os.LookupEnv(EnvPrefix + "_" + name); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			*dst = b
		}
	}
}
