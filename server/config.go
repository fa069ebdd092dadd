package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Auth modes supported by the access gate.
const (
	AuthModePassword  = "password"
	AuthModeAssertion = "iap"
)

// Hardcoded session and credential defaults.
const (
	DefaultSessionTTL = 24 * time.Hour

	// Refresh margins for the two credential tiers.
	PlatformTokenMargin = 60 * time.Second
	TargetTokenMargin   = 300 * time.Second
	TargetTokenTTL      = time.Hour

	// Ceiling for a single proxied exchange or websocket bridge. Long
	// enough for interactive terminals and large file transfers.
	UpstreamCeiling = time.Hour
)

// Config captures the full proxy configuration loaded from YAML and
// environment variables.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Cluster ClusterConfig `yaml:"cluster"`
	Auth    AuthConfig    `yaml:"auth"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	ListenAddr      string    `yaml:"listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	SecretsPath     string    `yaml:"secrets_path"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour for standalone deployments that
// terminate TLS themselves rather than behind a serverless frontend.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	MinVersion string   `yaml:"min_version"`
}

// ClusterConfig identifies the workstation cluster the proxy fronts and
// the control-plane endpoints used to mint credentials and drive
// lifecycle transitions. The URL fields exist so tests can point the
// proxy at local fakes.
type ClusterConfig struct {
	Hostname    string `yaml:"hostname"`
	Project     string `yaml:"project"`
	Region      string `yaml:"region"`
	ClusterName string `yaml:"cluster_name"`
	ConfigName  string `yaml:"config_name"`

	ControlPlaneURL  string `yaml:"control_plane_url"`
	MetadataTokenURL string `yaml:"metadata_token_url"`

	// Redirects from a target to this domain are swallowed rather than
	// forwarded: a browser behind the proxy cannot complete the
	// provider's consent flow.
	ConsentDomain string `yaml:"consent_domain"`
}

// AuthConfig selects how end users are authenticated in front of the
// proxy: a password form backed by cookie sessions, or a signed
// assertion header injected by an identity-aware frontend.
type AuthConfig struct {
	Mode       string          `yaml:"mode"`
	Password   string          `yaml:"password"`
	SessionTTL string          `yaml:"session_ttl"`
	Assertion  AssertionConfig `yaml:"assertion"`
}

// SessionDuration parses the configured session TTL, falling back to
// the default when unset or malformed.
func (a AuthConfig) SessionDuration() time.Duration {
	return parseDuration(a.SessionTTL, DefaultSessionTTL)
}

// AssertionConfig describes the signed header presented by the
// identity-aware frontend in iap mode.
type AssertionConfig struct {
	Header   string `yaml:"header"`
	JWKSURL  string `yaml:"jwks_url"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		// Strict unmarshaling to detect unknown fields.
		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			SecretsPath:     ".secrets",
			TLS: TLSConfig{
				Domains:    []string{"localhost"},
				MinVersion: "1.2",
			},
		},
		Cluster: ClusterConfig{
			Hostname:         "cluster-xxx.cloudworkstations.dev",
			Region:           "asia-northeast1",
			ClusterName:      "workstation-cluster",
			ConfigName:       "workstation-config",
			ControlPlaneURL:  "https://workstations.googleapis.com",
			MetadataTokenURL: "http://metadata.google.internal/computeMetadata/v1/instance/service-accounts/default/token",
			ConsentDomain:    "workstations.cloud.google.com",
		},
		Auth: AuthConfig{
			Mode:       AuthModePassword,
			SessionTTL: DefaultSessionTTL.String(),
			Assertion: AssertionConfig{
				Header:  "X-Goog-IAP-JWT-Assertion",
				JWKSURL: "https://www.gstatic.com/iap/verify/public_key-jwk",
				Issuer:  "https://cloud.google.com/iap",
			},
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"WSPROXYD_LISTEN_ADDR":        func(v string) { cfg.Server.ListenAddr = v },
		"WSPROXYD_DEV_MODE":           func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"WSPROXYD_SECRETS_PATH":       func(v string) { cfg.Server.SecretsPath = v },
		"WSPROXYD_TLS_DOMAINS":        func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"WSPROXYD_TLS_EMAIL":          func(v string) { cfg.Server.TLS.Email = v },
		"WSPROXYD_CLUSTER_HOSTNAME":   func(v string) { cfg.Cluster.Hostname = v },
		"WSPROXYD_PROJECT_ID":         func(v string) { cfg.Cluster.Project = v },
		"WSPROXYD_REGION":             func(v string) { cfg.Cluster.Region = v },
		"WSPROXYD_CLUSTER_NAME":       func(v string) { cfg.Cluster.ClusterName = v },
		"WSPROXYD_CONFIG_NAME":        func(v string) { cfg.Cluster.ConfigName = v },
		"WSPROXYD_CONTROL_PLANE_URL":  func(v string) { cfg.Cluster.ControlPlaneURL = v },
		"WSPROXYD_METADATA_TOKEN_URL": func(v string) { cfg.Cluster.MetadataTokenURL = v },
		"WSPROXYD_AUTH_MODE":          func(v string) { cfg.Auth.Mode = v },
		"WSPROXYD_PROXY_PASSWORD":     func(v string) { cfg.Auth.Password = v },
		"WSPROXYD_SESSION_TTL":        func(v string) { cfg.Auth.SessionTTL = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}

	// Serverless platforms inject the listener port as PORT.
	if port, ok := os.LookupEnv("PORT"); ok {
		cfg.Server.ListenAddr = ":" + port
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs minimal sanity checks on the config.
func (c Config) Validate() error {
	if c.Cluster.Hostname == "" {
		slog.Error("Missing required configuration", "field", "cluster.hostname")
		return errors.New("cluster.hostname is required")
	}
	if c.Cluster.Project == "" {
		slog.Error("Missing required configuration", "field", "cluster.project")
		return errors.New("cluster.project is required")
	}
	if c.Cluster.ClusterName == "" || c.Cluster.ConfigName == "" {
		slog.Error("Missing required configuration", "field", "cluster.cluster_name/config_name")
		return errors.New("cluster.cluster_name and cluster.config_name are required")
	}

	for _, field := range []struct{ name, value string }{
		{"cluster.control_plane_url", c.Cluster.ControlPlaneURL},
		{"cluster.metadata_token_url", c.Cluster.MetadataTokenURL},
	} {
		if !strings.HasPrefix(field.value, "http://") && !strings.HasPrefix(field.value, "https://") {
			slog.Error("Invalid configuration value", "field", field.name, "value", field.value)
			return fmt.Errorf("%s must start with http:// or https://, got: %s", field.name, field.value)
		}
	}

	switch c.Auth.Mode {
	case AuthModePassword:
		if c.Auth.Password == "" {
			slog.Error("Missing required configuration", "field", "auth.password", "reason", "required in password mode")
			return errors.New("auth.password is required in password mode")
		}
	case AuthModeAssertion:
		if c.Auth.Assertion.Header == "" {
			slog.Error("Missing required configuration", "field", "auth.assertion.header")
			return errors.New("auth.assertion.header is required in iap mode")
		}
		if c.Auth.Assertion.JWKSURL == "" {
			slog.Error("Missing required configuration", "field", "auth.assertion.jwks_url")
			return errors.New("auth.assertion.jwks_url is required in iap mode")
		}
	default:
		slog.Error("Invalid auth mode", "field", "auth.mode", "value", c.Auth.Mode, "valid_values", []string{AuthModePassword, AuthModeAssertion})
		return fmt.Errorf("auth.mode must be %q or %q, got: %s", AuthModePassword, AuthModeAssertion, c.Auth.Mode)
	}

	if c.Auth.SessionTTL != "" {
		d, err := time.ParseDuration(c.Auth.SessionTTL)
		if err != nil || d <= 0 {
			slog.Error("Invalid configuration value", "field", "auth.session_ttl", "value", c.Auth.SessionTTL)
			return fmt.Errorf("auth.session_ttl must be a positive duration, got: %s", c.Auth.SessionTTL)
		}
	}

	if c.Server.TLS.MinVersion != "" {
		validVersions := map[string]bool{"1.2": true, "1.3": true}
		if !validVersions[c.Server.TLS.MinVersion] {
			slog.Error("Invalid TLS minimum version", "field", "server.tls.min_version", "value", c.Server.TLS.MinVersion)
			return fmt.Errorf("server.tls.min_version must be '1.2' or '1.3', got: %s", c.Server.TLS.MinVersion)
		}
	}
	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	return nil
}

// TargetHost derives the backend host for a target identifier.
func (c ClusterConfig) TargetHost(targetID string) string {
	return targetID + "." + c.Hostname
}

// WorkstationResource builds the control-plane resource name for a target.
func (c ClusterConfig) WorkstationResource(targetID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/workstationClusters/%s/workstationConfigs/%s/workstations/%s",
		c.Project, c.Region, c.ClusterName, c.ConfigName, targetID)
}
