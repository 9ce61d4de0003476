// Package tlssvc implements the server half of §4.M: self-signed
// certificate generation/loading and the HTTP /cert download endpoint.
// The client-side TOFU pinning logic lives in the sherpa client and is
// out of scope here.
package tlssvc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"time"
)

// Config controls certificate generation and serving.
type Config struct {
	Enabled          bool
	AutoGenerateCert bool
	CertValidityDays int
	AdditionalSANs   []string
	CertFile         string
	KeyFile          string
}

// LoadOrGenerate loads the server cert/key from disk, generating a
// self-signed pair first if AutoGenerateCert is set and the files are
// absent.
func LoadOrGenerate(cfg Config) (tls.Certificate, error) {
	if _, err := os.Stat(cfg.CertFile); os.IsNotExist(err) {
		if !cfg.AutoGenerateCert {
			return tls.Certificate{}, fmt.Errorf("tlssvc: %s missing and auto_generate_cert disabled", cfg.CertFile)
		}
		if err := generate(cfg); err != nil {
			return tls.Certificate{}, err
		}
	}
	return tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
}

// generate creates an ECDSA self-signed certificate for "Sherpa Server"
// covering localhost, 127.0.0.1, and any additional configured SANs.
func generate(cfg Config) error {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("tlssvc: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("tlssvc: generate serial: %w", err)
	}

	validity := cfg.CertValidityDays
	if validity <= 0 {
		validity = 365
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "Sherpa Server"},
		NotBefore:    time.Now().Add(-5 * time.Minute),
		NotAfter:     time.Now().AddDate(0, 0, validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
		DNSNames:     append([]string{"localhost"}, cfg.AdditionalSANs...),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return fmt.Errorf("tlssvc: create certificate: %w", err)
	}

	certOut, err := os.OpenFile(cfg.CertFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("tlssvc: open %s: %w", cfg.CertFile, err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		return fmt.Errorf("tlssvc: write cert: %w", err)
	}

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("tlssvc: marshal key: %w", err)
	}
	keyOut, err := os.OpenFile(cfg.KeyFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("tlssvc: open %s: %w", cfg.KeyFile, err)
	}
	defer keyOut.Close()
	return pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
}

// CertHandler serves the server's PEM-encoded certificate over plain HTTP
// on port+1, for TOFU bootstrap by unconnected clients (§4.M).
type CertHandler struct {
	cfg Config
}

func NewCertHandler(cfg Config) *CertHandler { return &CertHandler{cfg: cfg} }

func (h *CertHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.Enabled {
		http.Error(w, "tls disabled", http.StatusServiceUnavailable)
		return
	}
	data, err := os.ReadFile(h.cfg.CertFile)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
