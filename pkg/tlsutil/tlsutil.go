// Package tlsutil builds tls.Config values for outbound connections.
//
// Mantle is a client of every TLS endpoint it touches: the MQTT broker,
// TimescaleDB, Redis, and alarm webhook receivers. This package loads
// client configurations from the same yaml/flag config shapes the rest
// of the system uses, layering extra CA files on top of the system
// trust store and optionally presenting a client certificate for
// brokers that require mutual TLS.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/joyautomation/mantle/errors"
)

// ClientConfig holds TLS settings for an outbound connection.
type ClientConfig struct {
	// CAFiles lists PEM files appended to the system trust store.
	CAFiles []string `json:"ca_files,omitempty" yaml:"ca_files"`

	// MinVersion is "1.2" or "1.3". Empty defaults to 1.2.
	MinVersion string `json:"min_version,omitempty" yaml:"min_version"`

	// InsecureSkipVerify disables server certificate verification.
	// Only for lab brokers with self-signed certificates.
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify"`

	// MTLS optionally presents a client certificate.
	MTLS ClientMTLSConfig `json:"mtls,omitempty" yaml:"mtls"`
}

// ClientMTLSConfig holds the client certificate for mutual TLS.
// Industrial brokers frequently require device certificates.
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file"`
}

// LoadClientConfig creates a tls.Config from cfg. The system CA bundle
// is always trusted; CAFiles add to it rather than replace it.
func LoadClientConfig(cfg ClientConfig) (*tls.Config, error) {
	roots, err := rootPool(cfg.CAFiles)
	if err != nil {
		return nil, err
	}

	tc := &tls.Config{
		MinVersion:         minVersion(cfg.MinVersion),
		RootCAs:            roots,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.MTLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.MTLS.CertFile, cfg.MTLS.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

// LoadCAConfig is a convenience for endpoints configured with a single
// optional CA file, like the database ssl_ca flag. An empty path yields
// a config trusting only the system bundle.
func LoadCAConfig(caFile string) (*tls.Config, error) {
	cfg := ClientConfig{}
	if caFile != "" {
		cfg.CAFiles = []string{caFile}
	}
	return LoadClientConfig(cfg)
}

// rootPool extends the system trust store with the given PEM files. A
// missing system store degrades to an empty pool rather than failing,
// which matters in scratch containers.
func rootPool(caFiles []string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	for _, path := range caFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "rootPool", "read CA file "+path)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, errors.WrapFatal(errors.ErrInvalidConfig, "tlsutil", "rootPool",
				"parse CA certificate from "+path)
		}
	}
	return pool, nil
}

// minVersion maps the config string onto crypto/tls constants with 1.2
// as the floor for anything unrecognized.
func minVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
