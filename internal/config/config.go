package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"skillswap/native/internal/domain"
)

// Call modes.
const (
	ModePeer   = "peer"
	ModeHosted = "hosted"
)

// Config holds the configuration of one call participant.
type Config struct {
	// CallID is set directly, or derived from MatchID once it is resolved.
	CallID  string
	MatchID string

	Self domain.CallParticipant
	// Peer is empty when MatchID is set; the API resolves it.
	Peer domain.CallParticipant

	// Relay is a ws:// or wss:// relay server URL, sqlite://<path> or a
	// mongodb:// URI.
	Relay        string
	ICEServers   []domain.ICEServer
	Media        domain.MediaPreferences
	RecordDir    string
	ReplayWindow time.Duration

	Mode         string
	HostedDomain string

	APIURL   string
	APIKey   string
	APIToken string
}

// RelayConfig holds the configuration of the relay server.
type RelayConfig struct {
	Listen string
	DB     string
}

// Load reads configuration from a .env file (if present) and environment variables.
// Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		CallID:       os.Getenv("SKILLSWAP_CALL_ID"),
		MatchID:      os.Getenv("SKILLSWAP_MATCH_ID"),
		Self:         participant("SKILLSWAP_SELF_ID", "SKILLSWAP_SELF_NAME"),
		Peer:         participant("SKILLSWAP_PEER_ID", "SKILLSWAP_PEER_NAME"),
		Relay:        os.Getenv("SKILLSWAP_RELAY"),
		RecordDir:    os.Getenv("SKILLSWAP_RECORD_DIR"),
		Mode:         envOr("SKILLSWAP_MODE", ModePeer),
		HostedDomain: os.Getenv("SKILLSWAP_HOSTED_DOMAIN"),
		APIURL:       os.Getenv("SKILLSWAP_API_URL"),
		APIKey:       os.Getenv("SKILLSWAP_API_KEY"),
		APIToken:     os.Getenv("SKILLSWAP_API_TOKEN"),
	}

	if cfg.Self.ID == "" {
		return nil, fmt.Errorf("SKILLSWAP_SELF_ID environment variable is required")
	}
	switch {
	case cfg.MatchID != "":
		if cfg.APIURL == "" || cfg.APIKey == "" {
			return nil, fmt.Errorf("SKILLSWAP_API_URL and SKILLSWAP_API_KEY are required with SKILLSWAP_MATCH_ID")
		}
	case cfg.CallID != "":
		if cfg.Peer.ID == "" {
			return nil, fmt.Errorf("SKILLSWAP_PEER_ID environment variable is required with SKILLSWAP_CALL_ID")
		}
	default:
		return nil, fmt.Errorf("SKILLSWAP_CALL_ID or SKILLSWAP_MATCH_ID environment variable is required")
	}

	switch cfg.Mode {
	case ModePeer:
		if cfg.Relay == "" {
			return nil, fmt.Errorf("SKILLSWAP_RELAY environment variable is required")
		}
	case ModeHosted:
	default:
		return nil, fmt.Errorf("SKILLSWAP_MODE must be %q or %q, got %q", ModePeer, ModeHosted, cfg.Mode)
	}

	var err error
	if cfg.Media.WantVideo, err = boolEnv("SKILLSWAP_WANT_VIDEO", true); err != nil {
		return nil, err
	}
	if cfg.Media.WantAudio, err = boolEnv("SKILLSWAP_WANT_AUDIO", true); err != nil {
		return nil, err
	}

	if v := os.Getenv("SKILLSWAP_REPLAY_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SKILLSWAP_REPLAY_WINDOW: %w", err)
		}
		cfg.ReplayWindow = d
	}

	if v := os.Getenv("SKILLSWAP_STUN"); v != "" {
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.ICEServers = append(cfg.ICEServers, domain.ICEServer{URLs: []string{u}})
			}
		}
	} else {
		cfg.ICEServers = domain.DefaultSTUNServers()
	}

	return cfg, nil
}

// LoadRelay reads the relay server configuration.
func LoadRelay() (*RelayConfig, error) {
	_ = godotenv.Load()

	cfg := &RelayConfig{
		Listen: envOr("SKILLSWAP_LISTEN", ":8080"),
		DB:     envOr("SKILLSWAP_DB", "skillswap-signals.db"),
	}
	if !strings.Contains(cfg.Listen, ":") {
		return nil, fmt.Errorf("SKILLSWAP_LISTEN must be host:port, got %q", cfg.Listen)
	}
	return cfg, nil
}

func participant(idKey, nameKey string) domain.CallParticipant {
	p := domain.CallParticipant{
		ID:          os.Getenv(idKey),
		DisplayName: os.Getenv(nameKey),
	}
	if p.DisplayName == "" {
		p.DisplayName = p.ID
	}
	return p
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
