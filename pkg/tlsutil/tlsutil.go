// Package tlsutil builds server TLS configuration from certificate files.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/devlink/errors"
)

// ServerConfig names the certificate files of a TLS listener. Setting
// ClientCAFiles turns on client certificate verification.
type ServerConfig struct {
	CertFile   string `json:"cert_file"`
	KeyFile    string `json:"key_file"`
	MinVersion string `json:"min_version,omitempty"` // "1.2" or "1.3"

	ClientCAFiles     []string `json:"client_ca_files,omitempty"`
	RequireClientCert bool     `json:"require_client_cert,omitempty"`
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"`
}

// Validate checks that the certificate and key are named together
func (c ServerConfig) Validate() error {
	if c.CertFile == "" || c.KeyFile == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "tlsutil", "Validate", "cert_file and key_file are both required")
	}
	switch c.MinVersion {
	case "", "1.2", "1.3":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "tlsutil", "Validate",
			fmt.Sprintf("unsupported min_version %q", c.MinVersion))
	}
	if (c.RequireClientCert || len(c.AllowedClientCNs) > 0) && len(c.ClientCAFiles) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "tlsutil", "Validate",
			"client certificate checks need client_ca_files")
	}
	return nil
}

// LoadServerConfig returns the tls.Config for cfg. A nil cfg means plain
// text and returns nil.
func LoadServerConfig(cfg *ServerConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerConfig", "load certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}

	if len(cfg.ClientCAFiles) == 0 {
		return tlsConfig, nil
	}

	clientCAs, err := loadPool(cfg.ClientCAFiles)
	if err != nil {
		return nil, err
	}
	tlsConfig.ClientCAs = clientCAs
	if cfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	if len(cfg.AllowedClientCNs) > 0 {
		allowed := append([]string(nil), cfg.AllowedClientCNs...)
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, chains [][]*x509.Certificate) error {
			return verifyAllowedClientCN(chains, allowed)
		}
	}
	return tlsConfig, nil
}

func loadPool(files []string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "loadPool", fmt.Sprintf("read CA file %s", file))
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, errors.WrapFatal(fmt.Errorf("invalid PEM data"), "tlsutil", "loadPool",
				fmt.Sprintf("parse CA certificate from %s", file))
		}
	}
	return pool, nil
}

// verifyAllowedClientCN runs only when a client presented a certificate;
// without one the handshake is governed by ClientAuth.
func verifyAllowedClientCN(chains [][]*x509.Certificate, allowed []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		return nil
	}

	cn := chains[0][0].Subject.CommonName
	for _, a := range allowed {
		if cn == a {
			return nil
		}
	}
	return fmt.Errorf("client certificate CN %q not in allowed list", cn)
}

// parseTLSVersion defaults to TLS 1.2
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
