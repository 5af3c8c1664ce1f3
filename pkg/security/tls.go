// Package security loads the TLS material the RPC surface needs for
// mutual authentication: a node certificate/key pair and a CA pool used
// both to verify peers and to trust the server's own certificate.
package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Config names the PEM files used to build a tls.Config.
type Config struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// LoadServerTLS builds a server-side tls.Config requiring a client
// certificate signed by CAFile, per spec.md's mutual-auth wire framing.
func LoadServerTLS(cfg Config) (*tls.Config, error) {
	cert, pool, err := load(cfg)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// LoadClientTLS builds a client-side tls.Config presenting the node's
// own certificate and trusting CAFile for the server's certificate.
func LoadClientTLS(cfg Config) (*tls.Config, error) {
	cert, pool, err := load(cfg)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func load(cfg Config) (tls.Certificate, *x509.CertPool, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return tls.Certificate{}, nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}

	caPEM, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return tls.Certificate{}, nil, fmt.Errorf("failed to parse CA certificate from %s", cfg.CAFile)
	}

	return cert, pool, nil
}
