package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	cerrors "github.com/joyautomation/mantle/errors"
	"github.com/joyautomation/mantle/pkg/tlsutil"
)

// Config is the complete runtime configuration. cmd/mantle assembles it in
// layers: built-in defaults, then an optional YAML file, then MANTLE_*
// environment variables, then command-line flags (highest precedence).
type Config struct {
	MQTT        MQTTConfig    `json:"mqtt" yaml:"mqtt"`
	DB          DBConfig      `json:"db" yaml:"db"`
	Redis       RedisConfig   `json:"redis" yaml:"redis"`
	Webhook     WebhookConfig `json:"webhook" yaml:"webhook"`
	GraphQL     GraphQLConfig `json:"graphql" yaml:"graphql"`
	Log         LogConfig     `json:"log" yaml:"log"`
	Historian   bool          `json:"historian" yaml:"historian"`
	MetricsPort int           `json:"metrics_port" yaml:"metrics_port"`
}

// MQTTConfig defines the Sparkplug broker connection.
type MQTTConfig struct {
	BrokerURL string `json:"broker_url" yaml:"broker_url"`
	Username  string `json:"username,omitempty" yaml:"username"`
	Password  string `json:"password,omitempty" yaml:"password"`
	// ClientID left empty generates "mantle-<random>" at connect time so
	// multiple instances never collide on the broker.
	ClientID string `json:"client_id,omitempty" yaml:"client_id"`
	// SharedGroup, when set, prefixes every subscription with
	// "$share/<group>/" so horizontally scaled instances split the feed.
	SharedGroup string               `json:"shared_group,omitempty" yaml:"shared_group"`
	TLS         tlsutil.ClientConfig `json:"tls,omitempty" yaml:"tls"`
}

// DBConfig defines the TimescaleDB connection.
type DBConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password,omitempty" yaml:"password"`
	Name     string `json:"name" yaml:"name"`
	SSL      bool   `json:"ssl" yaml:"ssl"`
	SSLCA    string `json:"ssl_ca,omitempty" yaml:"ssl_ca"`
	// AdminName is the maintenance database used to create Name when it
	// does not exist yet (migrations only).
	AdminName string `json:"admin_name" yaml:"admin_name"`
}

// RedisConfig defines the optional hot cache. An empty URL disables it and
// metric updates flow through in-process pub/sub instead.
type RedisConfig struct {
	URL        string `json:"url,omitempty" yaml:"url"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries"`
}

// WebhookConfig defines the alarm notification endpoint. An empty URL
// disables dispatch; transitions still land in alarm history.
type WebhookConfig struct {
	URL          string `json:"url,omitempty" yaml:"url"`
	Secret       string `json:"secret,omitempty" yaml:"secret"`
	SpaceShortID string `json:"space_short_id,omitempty" yaml:"space_short_id"`
}

// GraphQLConfig defines the query gateway listener.
type GraphQLConfig struct {
	Addr       string `json:"addr" yaml:"addr"`
	Playground bool   `json:"playground" yaml:"playground"`
}

// LogConfig defines structured logging output.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the configuration used when nothing else is supplied.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			BrokerURL: "tcp://localhost:1883",
		},
		DB: DBConfig{
			Host:      "localhost",
			Port:      5432,
			User:      "postgres",
			Password:  "postgres",
			Name:      "mantle",
			AdminName: "postgres",
		},
		Redis: RedisConfig{
			MaxRetries: 5,
		},
		GraphQL: GraphQLConfig{
			Addr:       ":4000",
			Playground: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Historian:   true,
		MetricsPort: 9090,
	}
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	if err := c.DB.Validate(); err != nil {
		return err
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	if err := c.Webhook.Validate(); err != nil {
		return err
	}
	if err := c.GraphQL.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port %d out of range: %w", c.MetricsPort, cerrors.ErrInvalidConfig)
	}
	return nil
}

// Validate checks the broker URL and TLS file references.
func (c *MQTTConfig) Validate() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url: %w", cerrors.ErrMissingConfig)
	}

	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return fmt.Errorf("mqtt.broker_url %q: %v: %w", c.BrokerURL, err, cerrors.ErrInvalidConfig)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("mqtt.broker_url scheme %q not supported: %w", u.Scheme, cerrors.ErrInvalidConfig)
	}

	for i, caFile := range c.TLS.CAFiles {
		if _, err := os.Stat(caFile); err != nil {
			return fmt.Errorf("mqtt.tls.ca_files[%d]: %v: %w", i, err, cerrors.ErrInvalidConfig)
		}
	}
	if c.TLS.MTLS.Enabled {
		if c.TLS.MTLS.CertFile == "" || c.TLS.MTLS.KeyFile == "" {
			return fmt.Errorf("mqtt.tls.mtls requires cert_file and key_file: %w", cerrors.ErrMissingConfig)
		}
		if _, err := os.Stat(c.TLS.MTLS.CertFile); err != nil {
			return fmt.Errorf("mqtt.tls.mtls.cert_file: %v: %w", err, cerrors.ErrInvalidConfig)
		}
		if _, err := os.Stat(c.TLS.MTLS.KeyFile); err != nil {
			return fmt.Errorf("mqtt.tls.mtls.key_file: %v: %w", err, cerrors.ErrInvalidConfig)
		}
	}
	if c.TLS.InsecureSkipVerify {
		fmt.Fprintln(os.Stderr,
			"WARNING: MQTT TLS certificate verification is disabled (insecure_skip_verify=true)")
	}
	return nil
}

// Validate checks the database connection settings.
func (c *DBConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("db.host: %w", cerrors.ErrMissingConfig)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("db.port %d out of range: %w", c.Port, cerrors.ErrInvalidConfig)
	}
	if c.User == "" {
		return fmt.Errorf("db.user: %w", cerrors.ErrMissingConfig)
	}
	if c.Name == "" {
		return fmt.Errorf("db.name: %w", cerrors.ErrMissingConfig)
	}
	if c.AdminName == "" {
		return fmt.Errorf("db.admin_name: %w", cerrors.ErrMissingConfig)
	}
	if c.SSLCA != "" {
		if !c.SSL {
			return fmt.Errorf("db.ssl_ca set but db.ssl is false: %w", cerrors.ErrInvalidConfig)
		}
		if _, err := os.Stat(c.SSLCA); err != nil {
			return fmt.Errorf("db.ssl_ca: %v: %w", err, cerrors.ErrInvalidConfig)
		}
	}
	return nil
}

// Validate checks the hot cache settings when the cache is enabled.
func (c *RedisConfig) Validate() error {
	if c.URL == "" {
		return nil
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("redis.url %q: %v: %w", c.URL, err, cerrors.ErrInvalidConfig)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return fmt.Errorf("redis.url scheme %q not supported: %w", u.Scheme, cerrors.ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("redis.max_retries %d negative: %w", c.MaxRetries, cerrors.ErrInvalidConfig)
	}
	return nil
}

// Enabled reports whether the hot cache should be started.
func (c *RedisConfig) Enabled() bool { return c.URL != "" }

// Validate checks the webhook endpoint when one is configured.
func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return nil
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("webhook.url %q: %v: %w", c.URL, err, cerrors.ErrInvalidConfig)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook.url scheme %q not supported: %w", u.Scheme, cerrors.ErrInvalidConfig)
	}
	return nil
}

// Enabled reports whether alarm transitions should be dispatched.
func (c *WebhookConfig) Enabled() bool { return c.URL != "" }

// Validate checks the gateway listen address.
func (c *GraphQLConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("graphql.addr: %w", cerrors.ErrMissingConfig)
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("graphql.addr %q: %v: %w", c.Addr, err, cerrors.ErrInvalidConfig)
	}
	return nil
}

// Validate checks the logging settings.
func (c *LogConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q not one of debug/info/warn/error: %w", c.Level, cerrors.ErrInvalidConfig)
	}
	switch strings.ToLower(c.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q not one of text/json: %w", c.Format, cerrors.ErrInvalidConfig)
	}
	return nil
}

// ConnString returns the pgx connection string for the application database.
func (c *DBConfig) ConnString() string { return c.connString(c.Name) }

// AdminConnString returns the connection string for the maintenance database,
// used by migrations to create the application database when missing.
func (c *DBConfig) AdminConnString() string { return c.connString(c.AdminName) }

func (c *DBConfig) connString(dbName string) string {
	q := url.Values{}
	switch {
	case c.SSL && c.SSLCA != "":
		q.Set("sslmode", "verify-full")
		q.Set("sslrootcert", c.SSLCA)
	case c.SSL:
		q.Set("sslmode", "require")
	default:
		q.Set("sslmode", "disable")
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.User(c.User),
		Host:     net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port)),
		Path:     "/" + dbName,
		RawQuery: q.Encode(),
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	return u.String()
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	copied := *c
	if len(c.MQTT.TLS.CAFiles) > 0 {
		copied.MQTT.TLS.CAFiles = append([]string(nil), c.MQTT.TLS.CAFiles...)
	}
	return &copied
}

// Redacted returns a copy with credentials masked, safe to log.
func (c *Config) Redacted() *Config {
	copied := c.Clone()
	if copied.MQTT.Password != "" {
		copied.MQTT.Password = "[redacted]"
	}
	if copied.DB.Password != "" {
		copied.DB.Password = "[redacted]"
	}
	if copied.Webhook.Secret != "" {
		copied.Webhook.Secret = "[redacted]"
	}
	if copied.Redis.URL != "" {
		if u, err := url.Parse(copied.Redis.URL); err == nil && u.User != nil {
			if _, has := u.User.Password(); has {
				u.User = url.UserPassword(u.User.Username(), "redacted")
				copied.Redis.URL = u.String()
			}
		}
	}
	return copied
}

// String returns an indented JSON rendering with credentials masked.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}
