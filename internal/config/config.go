// Package config loads the cluster bootstrap configuration: the
// overridable layer above spec.md's fixed constants. It is the Go-native
// counterpart of the reference coordinator's docker-compose loader,
// generalized from "extract container names from compose YAML" to
// "extract coordination-plane tunables from cluster YAML".
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults from spec.md §6.
const (
	DefaultBroadcastHost     = "255.255.255.255"
	DefaultBroadcastPort     = 9090
	DefaultLeaderHost        = "0.0.0.0"
	DefaultLeaderPort        = 9091
	DefaultPeerTimeout       = 2 * time.Second
	DefaultLeaderTimeout     = 5 * time.Second
	DefaultBeaconInterval    = 500 * time.Millisecond
	DefaultHeartbeatInterval = 1 * time.Second
	DefaultMetricsAddr       = ":9094"
)

// Cluster holds the tunable constants of a ringvote deployment. Every
// field is optional in the YAML source; a zero value falls back to the
// corresponding Default above.
type Cluster struct {
	BroadcastHost     string
	BroadcastPort     int
	LeaderHost        string
	LeaderPort        int
	PeerTimeout       time.Duration
	LeaderTimeout     time.Duration
	BeaconInterval    time.Duration
	HeartbeatInterval time.Duration
	MetricsAddr       string
}

// rawCluster is the YAML wire shape. Durations are read as strings (the
// documented "2s" / "500ms" syntax from SPEC_FULL.md) because yaml.v3
// decodes a bare scalar against time.Duration's underlying int64 kind,
// rejecting unit suffixes; they are parsed with time.ParseDuration below.
type rawCluster struct {
	BroadcastHost     string `yaml:"broadcast_host"`
	BroadcastPort     int    `yaml:"broadcast_port"`
	LeaderHost        string `yaml:"leader_host"`
	LeaderPort        int    `yaml:"leader_port"`
	PeerTimeout       string `yaml:"peer_timeout"`
	LeaderTimeout     string `yaml:"leader_timeout"`
	BeaconInterval    string `yaml:"beacon_interval"`
	HeartbeatInterval string `yaml:"heartbeat_interval"`
	MetricsAddr       string `yaml:"metrics_addr"`
}

// Default returns the built-in constants from spec.md §6.
func Default() Cluster {
	return Cluster{
		BroadcastHost:     DefaultBroadcastHost,
		BroadcastPort:     DefaultBroadcastPort,
		LeaderHost:        DefaultLeaderHost,
		LeaderPort:        DefaultLeaderPort,
		PeerTimeout:       DefaultPeerTimeout,
		LeaderTimeout:     DefaultLeaderTimeout,
		BeaconInterval:    DefaultBeaconInterval,
		HeartbeatInterval: DefaultHeartbeatInterval,
		MetricsAddr:       DefaultMetricsAddr,
	}
}

// Load reads a cluster YAML file at path, merging any set fields over the
// defaults. A missing file is not an error: the defaults are used as-is,
// matching spec.md's "fixed at build or start" fallback. A present but
// unparseable file is fatal to the caller (bind-failure class error).
func Load(path string) (Cluster, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Cluster{}, fmt.Errorf("read cluster config %s: %w", path, err)
	}

	var override rawCluster
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Cluster{}, fmt.Errorf("parse cluster config %s: %w", path, err)
	}

	if override.BroadcastHost != "" {
		cfg.BroadcastHost = override.BroadcastHost
	}
	if override.BroadcastPort != 0 {
		cfg.BroadcastPort = override.BroadcastPort
	}
	if override.LeaderHost != "" {
		cfg.LeaderHost = override.LeaderHost
	}
	if override.LeaderPort != 0 {
		cfg.LeaderPort = override.LeaderPort
	}
	if err := overrideDuration(&cfg.PeerTimeout, override.PeerTimeout, "peer_timeout"); err != nil {
		return Cluster{}, err
	}
	if err := overrideDuration(&cfg.LeaderTimeout, override.LeaderTimeout, "leader_timeout"); err != nil {
		return Cluster{}, err
	}
	if err := overrideDuration(&cfg.BeaconInterval, override.BeaconInterval, "beacon_interval"); err != nil {
		return Cluster{}, err
	}
	if err := overrideDuration(&cfg.HeartbeatInterval, override.HeartbeatInterval, "heartbeat_interval"); err != nil {
		return Cluster{}, err
	}
	if override.MetricsAddr != "" {
		cfg.MetricsAddr = override.MetricsAddr
	}

	return cfg, nil
}

// overrideDuration parses raw (if non-empty) with time.ParseDuration and
// writes it into dst, leaving dst untouched when raw is empty.
func overrideDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse %s %q: %w", field, raw, err)
	}
	*dst = d
	return nil
}

// PathFromEnv returns the configured cluster config path, defaulting to
// ./cluster.yaml, overridable via RINGVOTE_CONFIG.
func PathFromEnv() string {
	if p := os.Getenv("RINGVOTE_CONFIG"); p != "" {
		return p
	}
	return "./cluster.yaml"
}
