// Package config resolves venue credential bundles and endpoint settings from
// defaults, an optional YAML file, and environment overrides. Adapters consume
// the resolved bundles; they never read the environment or filesystem.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Venue names a supported venue integration.
type Venue string

const (
	// VenueBinance is the Binance spot integration key.
	VenueBinance Venue = "binance"
	// VenueKraken is the Kraken spot integration key.
	VenueKraken Venue = "kraken"
	// VenueBybit is the Bybit unified integration key.
	VenueBybit Venue = "bybit"
	// VenueOKX is the OKX integration key.
	VenueOKX Venue = "okx"
	// VenueCoinbase is the Coinbase Exchange integration key.
	VenueCoinbase Venue = "coinbase"
	// VenueOANDA is the OANDA forex integration key.
	VenueOANDA Venue = "oanda"
)

// Venues lists every supported integration in registration order.
func Venues() []Venue {
	return []Venue{VenueBinance, VenueKraken, VenueBybit, VenueOKX, VenueCoinbase, VenueOANDA}
}

// CredentialConfig carries one venue's resolved credential bundle.
type CredentialConfig struct {
	Key        string `yaml:"key"`
	Secret     string `yaml:"secret"`
	Passphrase string `yaml:"passphrase"`
	AccountID  string `yaml:"accountId"`
	Testnet    bool   `yaml:"testnet"`
}

// VenueSettings aggregates transport and credential configuration per venue.
type VenueSettings struct {
	Enabled     bool             `yaml:"enabled"`
	Credentials CredentialConfig `yaml:"credentials"`
	// RESTBaseURL overrides the adapter's default REST host.
	RESTBaseURL string `yaml:"restBaseUrl"`
	// WebsocketURL overrides the adapter's default streaming host.
	WebsocketURL string        `yaml:"websocketUrl"`
	HTTPTimeout  time.Duration `yaml:"httpTimeout"`
	// RateLimit caps REST requests per second against this venue.
	RateLimit float64 `yaml:"rateLimit"`
}

// TelemetryConfig selects the metrics exporter endpoint.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings is the resolved configuration tree.
type Settings struct {
	Telemetry TelemetryConfig         `yaml:"telemetry"`
	Venues    map[Venue]VenueSettings `yaml:"venues"`
}

// Default returns the default configuration: every venue known, none enabled.
func Default() Settings {
	venues := make(map[Venue]VenueSettings, len(Venues()))
	for _, venue := range Venues() {
		venues[venue] = VenueSettings{
			Enabled:     false,
			HTTPTimeout: 10 * time.Second,
			RateLimit:   10,
		}
	}
	return Settings{
		Telemetry: TelemetryConfig{ServiceName: "venuelink"},
		Venues:    venues,
	}
}

// Load resolves settings from defaults, the optional YAML file at path, and
// environment overrides, in that order.
func Load(path string) (Settings, error) {
	cfg := Default()
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		raw, err := os.ReadFile(trimmed)
		if err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", trimmed, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Settings{}, fmt.Errorf("parse config %s: %w", trimmed, err)
		}
	}
	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// FromEnv resolves settings from defaults and environment overrides only.
func FromEnv() Settings {
	cfg := Default()
	applyEnv(&cfg)
	normalize(&cfg)
	return cfg
}

func applyEnv(cfg *Settings) {
	if v := strings.TrimSpace(os.Getenv("VENUELINK_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("VENUELINK_SERVICE_NAME")); v != "" {
		cfg.Telemetry.ServiceName = v
	}
	for _, venue := range Venues() {
		settings := cfg.Venues[venue]
		prefix := "VENUELINK_" + strings.ToUpper(string(venue)) + "_"
		if v := strings.TrimSpace(os.Getenv(prefix + "API_KEY")); v != "" {
			settings.Credentials.Key = v
			settings.Enabled = true
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "API_SECRET")); v != "" {
			settings.Credentials.Secret = v
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "PASSPHRASE")); v != "" {
			settings.Credentials.Passphrase = v
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "ACCOUNT_ID")); v != "" {
			settings.Credentials.AccountID = v
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "TESTNET")); v != "" {
			if parsed, err := strconv.ParseBool(v); err == nil {
				settings.Credentials.Testnet = parsed
			}
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "REST_BASE_URL")); v != "" {
			settings.RESTBaseURL = v
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "WS_URL")); v != "" {
			settings.WebsocketURL = v
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "HTTP_TIMEOUT")); v != "" {
			if dur, err := time.ParseDuration(v); err == nil {
				settings.HTTPTimeout = dur
			}
		}
		if v := strings.TrimSpace(os.Getenv(prefix + "ENABLED")); v != "" {
			if parsed, err := strconv.ParseBool(v); err == nil {
				settings.Enabled = parsed
			}
		}
		cfg.Venues[venue] = settings
	}
}

func normalize(cfg *Settings) {
	if cfg.Venues == nil {
		cfg.Venues = make(map[Venue]VenueSettings)
	}
	for _, venue := range Venues() {
		settings := cfg.Venues[venue]
		if settings.HTTPTimeout <= 0 {
			settings.HTTPTimeout = 10 * time.Second
		}
		if settings.RateLimit <= 0 {
			settings.RateLimit = 10
		}
		cfg.Venues[venue] = settings
	}
}
