// Package ops loads and resolves runtime configuration.
package ops

import (
	"os"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"main/internal/bus"
	"main/internal/flow"
	"main/internal/wal"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Bus       BusConfig          `json:"bus"`
	Log       LogConfig          `json:"log"`
	Venue     VenueConfig        `json:"venue"`
	Database  DatabaseConfig     `json:"database"`
	Wiring    []RuleConfig       `json:"wiring"`
	Features  FeatureFlagsConfig `json:"features"`
	Profiling ProfilingConfig    `json:"profiling"`
}

// BusConfig defines event bus defaults.
type BusConfig struct {
	QueueSize        int `json:"queueSize"`
	MaxAttempts      int `json:"maxAttempts"`
	RetryBaseMs      int `json:"retryBaseMs"`
	HandlerTimeoutMs int `json:"handlerTimeoutMs"`
}

// LogConfig defines the durable event log.
type LogConfig struct {
	Dir             string `json:"dir"`
	SegmentMaxBytes int64  `json:"segmentMaxBytes"`
	FlushIntervalMs int    `json:"flushIntervalMs"`
	SyncIntervalMs  int    `json:"syncIntervalMs"`
}

// VenueConfig selects and parameterizes the execution venue.
type VenueConfig struct {
	Mode       string `json:"mode"`
	URL        string `json:"url"`
	Session    string `json:"session"`
	PriceScale int    `json:"priceScale"`
	QtyScale   int    `json:"qtyScale"`
}

// DatabaseConfig describes the optional postgres backend.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// RuleConfig is one wiring rule in the config file.
type RuleConfig struct {
	Source string `json:"source"`
	Output string `json:"output"`
	Topic  string `json:"topic"`
	Scope  string `json:"scope"`
	Target string `json:"target"`
	Input  string `json:"input"`
}

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	PersistLedger  *bool `json:"persistLedger"`
	PersistJournal *bool `json:"persistJournal"`
	ReplayOnBoot   *bool `json:"replayOnBoot"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	PersistLedger  bool
	PersistJournal bool
	ReplayOnBoot   bool
}

// ProfilingConfig enables continuous profiling.
type ProfilingConfig struct {
	ServerAddress   string `json:"serverAddress"`
	ApplicationName string `json:"applicationName"`
}

// VenueMode selects the venue connector implementation.
type VenueMode uint16

const (
	VenueModeUnknown VenueMode = iota
	VenueModePaper
	VenueModeRemote
)

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Bus       bus.Config
	Log       wal.Config
	VenueMode VenueMode
	Venue     VenueConfig
	Database  DatabaseConfig
	Rules     []flow.Rule
	Features  FeatureFlags
	Profiling ProfilingConfig
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config")
	}
	return Parse(data)
}

// Parse resolves raw JSON config bytes.
func Parse(data []byte) (Loaded, error) {
	var cfg FileConfig
	if err := sonic.ConfigFastest.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "unmarshal config")
	}

	mode, err := resolveVenueMode(cfg.Venue)
	if err != nil {
		return Loaded{}, err
	}

	rules, err := resolveRules(cfg.Wiring)
	if err != nil {
		return Loaded{}, err
	}

	logCfg := wal.Config{
		Dir:             cfg.Log.Dir,
		SegmentMaxBytes: cfg.Log.SegmentMaxBytes,
		FlushInterval:   time.Duration(cfg.Log.FlushIntervalMs) * time.Millisecond,
		SyncInterval:    time.Duration(cfg.Log.SyncIntervalMs) * time.Millisecond,
	}
	if logCfg.Dir == "" {
		return Loaded{}, errors.New("log dir is empty")
	}

	return Loaded{
		Bus: bus.Config{
			QueueSize:      cfg.Bus.QueueSize,
			MaxAttempts:    cfg.Bus.MaxAttempts,
			RetryBase:      time.Duration(cfg.Bus.RetryBaseMs) * time.Millisecond,
			HandlerTimeout: time.Duration(cfg.Bus.HandlerTimeoutMs) * time.Millisecond,
		},
		Log:       logCfg,
		VenueMode: mode,
		Venue:     cfg.Venue,
		Database:  cfg.Database,
		Rules:     rules,
		Features:  resolveFeatures(cfg.Features),
		Profiling: cfg.Profiling,
	}, nil
}

func resolveVenueMode(cfg VenueConfig) (VenueMode, error) {
	switch cfg.Mode {
	case "", "paper":
		return VenueModePaper, nil
	case "remote":
		if cfg.URL == "" {
			return VenueModeUnknown, errors.New("remote venue requires a url")
		}
		return VenueModeRemote, nil
	default:
		return VenueModeUnknown, errors.Errorf("unknown venue mode %q", cfg.Mode)
	}
}

func resolveRules(cfgs []RuleConfig) ([]flow.Rule, error) {
	rules := make([]flow.Rule, 0, len(cfgs))
	for i, cfg := range cfgs {
		scope, err := resolveScope(cfg.Scope)
		if err != nil {
			return nil, errors.Wrap(err, "wiring rule #"+strconv.Itoa(i))
		}
		rules = append(rules, flow.Rule{
			Source: cfg.Source,
			Output: cfg.Output,
			Topic:  cfg.Topic,
			Scope:  scope,
			Target: cfg.Target,
			Input:  cfg.Input,
		})
	}
	return rules, nil
}

func resolveScope(s string) (bus.Scope, error) {
	switch s {
	case "broadcast":
		return bus.ScopeBroadcast, nil
	case "", "isolated":
		return bus.ScopeIsolated, nil
	default:
		return bus.ScopeUnknown, errors.Errorf("unknown scope %q", s)
	}
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		PersistLedger:  false,
		PersistJournal: false,
		ReplayOnBoot:   false,
	}
	if cfg.PersistLedger != nil {
		flags.PersistLedger = *cfg.PersistLedger
	}
	if cfg.PersistJournal != nil {
		flags.PersistJournal = *cfg.PersistJournal
	}
	if cfg.ReplayOnBoot != nil {
		flags.ReplayOnBoot = *cfg.ReplayOnBoot
	}
	return flags
}
