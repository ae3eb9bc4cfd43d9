package config

import (
	"strings"
	"time"
)

// DefaultAlertChannels are the campuses served by the shuttle.
const DefaultAlertChannels = "Unifavip Wyden, Asces Unita, Uninassau, Grau Técnico, Unip, Ufpe, Centro"

// ShuttleConfig holds the settings of the seat map, passenger and alert
// features.
type ShuttleConfig struct {
	DefaultVehicleID string
	SeatClaimMode    string // "conditional" or "last_write_wins"
	SeatIdleTimeout  time.Duration
	AlertChannels    []string
	AlertPageSize    int
	StoreBackend     string // "mysql" or "memory"
	StorePoll        time.Duration
	StorePrefix      string
	WSPingInterval   time.Duration
}

// LoadShuttleConfig reads the shuttle settings with defaults.
func LoadShuttleConfig() ShuttleConfig {
	cfg := ShuttleConfig{
		DefaultVehicleID: envStr("DEFAULT_VEHICLE_ID", "ABC1D23"),
		SeatClaimMode:    strings.ToLower(envStr("SEAT_CLAIM_MODE", "conditional")),
		SeatIdleTimeout:  envDur("SEAT_ENGINE_IDLE_TIMEOUT", 10*time.Minute),
		AlertChannels:    envList("ALERT_CHANNELS", DefaultAlertChannels),
		AlertPageSize:    envInt("ALERT_PAGE_SIZE", 50),
		StoreBackend:     strings.ToLower(envStr("STORE_BACKEND", "mysql")),
		StorePoll:        envDur("STORE_POLL_INTERVAL", 2*time.Second),
		StorePrefix:      envStr("STORE_CHANNEL_PREFIX", "store"),
		WSPingInterval:   envDur("WS_PING_INTERVAL", 30*time.Second),
	}
	if cfg.StorePoll <= 0 {
		cfg.StorePoll = 2 * time.Second
	}
	if cfg.SeatIdleTimeout <= 0 {
		cfg.SeatIdleTimeout = 10 * time.Minute
	}
	if cfg.WSPingInterval <= 0 {
		cfg.WSPingInterval = 30 * time.Second
	}
	return cfg
}
