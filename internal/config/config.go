package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the dialcore daemon.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	LogLevel    string
	LogFormat   string // log output format: "text" or "json"
	CORSOrigins string
	JWTSecret   string // hex-encoded 32-byte secret for device JWT signing
	DevAPI      bool   // expose the simulation-control endpoints

	GatewayURL string // hosted gateway endpoint for wake pushes and CNAM lookups
	AccountKey string // account key authenticating with the hosted gateway

	VoicemailNumber string // voicemail number announced by the simulated drivers

	// SIP softphone driver. Leaving the server empty disables it.
	SIPServer       string
	SIPPort         int
	SIPUsername     string
	SIPAuthUsername string
	SIPPassword     string
	SIPTransport    string
	SIPExpiry       int
	SIPListenAddr   string
}

// defaults
const (
	defaultDataDir       = "./data"
	defaultHTTPPort      = 8080
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultSIPPort       = 5060
	defaultSIPTransport  = "udp"
	defaultSIPExpiry     = 300
	defaultSIPListenAddr = "0.0.0.0:5080"
)

// envPrefix is the prefix for all dialcore environment variables.
const envPrefix = "DIALCORE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("dialcore", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the call store")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for device JWT signing (auto-generated if empty)")
	fs.BoolVar(&cfg.DevAPI, "dev-api", false, "expose simulation-control endpoints for driving the fake radios")
	fs.StringVar(&cfg.GatewayURL, "gateway-url", "", "hosted gateway URL for wake pushes and caller-name lookups")
	fs.StringVar(&cfg.AccountKey, "account-key", "", "account key for authenticating with the hosted gateway")
	fs.StringVar(&cfg.VoicemailNumber, "voicemail-number", "", "voicemail number announced by the simulated drivers")
	fs.StringVar(&cfg.SIPServer, "sip-server", "", "SIP registrar host for the softphone driver (empty disables it)")
	fs.IntVar(&cfg.SIPPort, "sip-port", defaultSIPPort, "SIP registrar port")
	fs.StringVar(&cfg.SIPUsername, "sip-username", "", "SIP account username")
	fs.StringVar(&cfg.SIPAuthUsername, "sip-auth-username", "", "SIP digest auth username (defaults to sip-username)")
	fs.StringVar(&cfg.SIPPassword, "sip-password", "", "SIP account password")
	fs.StringVar(&cfg.SIPTransport, "sip-transport", defaultSIPTransport, "SIP transport (udp, tcp)")
	fs.IntVar(&cfg.SIPExpiry, "sip-expiry", defaultSIPExpiry, "SIP registration expiry in seconds")
	fs.StringVar(&cfg.SIPListenAddr, "sip-listen-addr", defaultSIPListenAddr, "local SIP listen address")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":          envPrefix + "DATA_DIR",
		"http-port":         envPrefix + "HTTP_PORT",
		"log-level":         envPrefix + "LOG_LEVEL",
		"log-format":        envPrefix + "LOG_FORMAT",
		"cors-origins":      envPrefix + "CORS_ORIGINS",
		"jwt-secret":        envPrefix + "JWT_SECRET",
		"dev-api":           envPrefix + "DEV_API",
		"gateway-url":       envPrefix + "GATEWAY_URL",
		"account-key":       envPrefix + "ACCOUNT_KEY",
		"voicemail-number":  envPrefix + "VOICEMAIL_NUMBER",
		"sip-server":        envPrefix + "SIP_SERVER",
		"sip-port":          envPrefix + "SIP_PORT",
		"sip-username":      envPrefix + "SIP_USERNAME",
		"sip-auth-username": envPrefix + "SIP_AUTH_USERNAME",
		"sip-password":      envPrefix + "SIP_PASSWORD",
		"sip-transport":     envPrefix + "SIP_TRANSPORT",
		"sip-expiry":        envPrefix + "SIP_EXPIRY",
		"sip-listen-addr":   envPrefix + "SIP_LISTEN_ADDR",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "dev-api":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.DevAPI = v
			}
		case "gateway-url":
			cfg.GatewayURL = val
		case "account-key":
			cfg.AccountKey = val
		case "voicemail-number":
			cfg.VoicemailNumber = val
		case "sip-server":
			cfg.SIPServer = val
		case "sip-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPPort = v
			}
		case "sip-username":
			cfg.SIPUsername = val
		case "sip-auth-username":
			cfg.SIPAuthUsername = val
		case "sip-password":
			cfg.SIPPassword = val
		case "sip-transport":
			cfg.SIPTransport = val
		case "sip-expiry":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SIPExpiry = v
			}
		case "sip-listen-addr":
			cfg.SIPListenAddr = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.SIPPort < 1 || c.SIPPort > 65535 {
		return fmt.Errorf("sip-port must be between 1 and 65535, got %d", c.SIPPort)
	}
	if c.SIPExpiry < 60 {
		return fmt.Errorf("sip-expiry must be at least 60 seconds, got %d", c.SIPExpiry)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	transport := strings.ToLower(c.SIPTransport)
	if transport != "udp" && transport != "tcp" {
		return fmt.Errorf("sip-transport must be udp or tcp, got %q", c.SIPTransport)
	}
	c.SIPTransport = transport

	if c.SIPServer != "" && c.SIPUsername == "" {
		return fmt.Errorf("sip-username is required when sip-server is set")
	}

	return nil
}

// SIPEnabled returns true when the softphone driver is configured.
func (c *Config) SIPEnabled() bool {
	return c.SIPServer != ""
}

// JWTSecretBytes returns the decoded 32-byte JWT signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
