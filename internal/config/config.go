// Package config loads and resolves Sherpa's server-wide TOML configuration
// (§4.O) and the fixed filesystem layout under the server root.
//
// Grounded on the teacher's pkg/newtlab/newtlab.go resolveNewtLabConfig
// cascade-of-defaults pattern, generalized from a single struct to a typed
// Config tree loaded once at boot.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level server configuration, loaded from
// <server_root>/config/sherpa.toml.
type Config struct {
	ServerRoot string `toml:"server_root"`

	Network NetworkConfig `toml:"network"`
	TLS     TLSConfig     `toml:"tls"`
	Auth    AuthConfig    `toml:"auth"`
	Redis   RedisConfig   `toml:"redis"`
	Readiness ReadinessConfig `toml:"readiness"`
}

// NetworkConfig controls the WebSocket listener and its companion HTTP port.
type NetworkConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// TLSConfig controls §4.M.
type TLSConfig struct {
	Enabled          bool     `toml:"enabled"`
	AutoGenerateCert bool     `toml:"auto_generate_cert"`
	CertValidityDays int      `toml:"cert_validity_days"`
	AdditionalSANs   []string `toml:"additional_sans"`
}

// AuthConfig controls §4.L.
type AuthConfig struct {
	TokenTTLSeconds int `toml:"token_ttl_seconds"`
}

// RedisConfig controls the optional cross-instance progress mirror.
type RedisConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// ReadinessConfig holds the readiness timeout and sleep settings. The up
// pipeline does not read it: phase 13 always uses a fixed 600s timeout and
// 10s sleep.
type ReadinessConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
	SleepSeconds   int `toml:"sleep_seconds"`
}

// Defaults mirrors the teacher's resolveNewtLabConfig: every field gets a
// sane value before the TOML file is merged in, so a near-empty config file
// is valid.
func Defaults() *Config {
	return &Config{
		ServerRoot: "/opt/sherpa",
		Network:    NetworkConfig{Host: "0.0.0.0", Port: 3030},
		TLS:        TLSConfig{Enabled: false, AutoGenerateCert: true, CertValidityDays: 365},
		Auth:       AuthConfig{TokenTTLSeconds: 7 * 24 * 3600},
		Redis:      RedisConfig{Enabled: false, Addr: "127.0.0.1:6379"},
		Readiness:  ReadinessConfig{TimeoutSeconds: 600, SleepSeconds: 10},
	}
}

// Load reads path, merges it over Defaults(), and returns the resolved
// Config. A missing file is not an error — it resolves to pure defaults,
// matching the teacher's tolerant cascade-of-defaults posture.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Layout resolves the fixed directory tree under ServerRoot (§4.O).
type Layout struct {
	Root string
}

func NewLayout(root string) Layout { return Layout{Root: root} }

func (l Layout) ConfigDir() string     { return filepath.Join(l.Root, "config") }
func (l Layout) SSHDir() string        { return filepath.Join(l.Root, "ssh") }
func (l Layout) ImagesDir() string     { return filepath.Join(l.Root, "images") }
func (l Layout) ContainersDir() string { return filepath.Join(l.Root, "containers") }
func (l Layout) BinsDir() string       { return filepath.Join(l.Root, "bins") }
func (l Layout) LabsDir() string       { return filepath.Join(l.Root, "labs") }
func (l Layout) RunDir() string        { return filepath.Join(l.Root, "run") }
func (l Layout) LogsDir() string       { return filepath.Join(l.Root, "logs") }
func (l Layout) CertsDir() string      { return filepath.Join(l.Root, ".certs") }
func (l Layout) SecretDir() string     { return filepath.Join(l.Root, ".secret") }
func (l Layout) LibvirtPoolDir() string {
	return filepath.Join(l.Root, "libvirt", "images")
}

func (l Layout) LabDir(labID string) string { return filepath.Join(l.LabsDir(), labID) }
func (l Layout) LabInfoFile(labID string) string {
	return filepath.Join(l.LabDir(labID), "lab-info.toml")
}
func (l Layout) LabZTPDir(labID string) string { return filepath.Join(l.LabDir(labID), "ztp") }

func (l Layout) ImageDiskPath(model, version string) string {
	return filepath.Join(l.ImagesDir(), model, version, "virtioa.qcow2")
}

func (l Layout) PIDFile() string          { return filepath.Join(l.RunDir(), "sherpad.pid") }
func (l Layout) DaemonLogFile() string    { return filepath.Join(l.LogsDir(), "sherpad.log") }
func (l Layout) JWTSecretFile() string    { return filepath.Join(l.SecretDir(), "jwt.secret") }
func (l Layout) ServerCertFile() string   { return filepath.Join(l.CertsDir(), "server.crt") }
func (l Layout) ServerKeyFile() string    { return filepath.Join(l.CertsDir(), "server.key") }
func (l Layout) ImageSeedFile() string    { return filepath.Join(l.ConfigDir(), "images.seed.yaml") }
func (l Layout) CatalogDBFile() string    { return filepath.Join(l.Root, "catalog.db") }

// EnsureDirs creates every fixed top-level directory with appropriate
// permissions. SSH, secret and cert directories get 0700; the rest 0755.
func (l Layout) EnsureDirs() error {
	dirs := []struct {
		path string
		mode os.FileMode
	}{
		{l.ConfigDir(), 0755},
		{l.SSHDir(), 0700},
		{l.ImagesDir(), 0755},
		{l.ContainersDir(), 0755},
		{l.BinsDir(), 0755},
		{l.LabsDir(), 0755},
		{l.RunDir(), 0755},
		{l.LogsDir(), 0755},
		{l.CertsDir(), 0700},
		{l.SecretDir(), 0700},
		{l.LibvirtPoolDir(), 0755},
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d.path, d.mode); err != nil {
			return fmt.Errorf("config: create %s: %w", d.path, err)
		}
	}
	return nil
}
