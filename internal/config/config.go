// Package config defines engine configuration and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load layers a YAML file and TYPERACE_* env vars over the defaults.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"runtime"
	"time"
)

// Supported store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config contains process configuration. Keys are flat so that every field can
// be overridden with a TYPERACE_<KEY> environment variable.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the ops HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// StoreDriver selects persistence: memory, sqlite or postgres.
	StoreDriver string `koanf:"store_driver"`
	// StoreDSN is passed to the SQL driver. Ignored for memory.
	StoreDSN string `koanf:"store_dsn"`
	// SpillPath is the bbolt file used to keep unflushed progress across a
	// failed shutdown flush. Empty disables spilling.
	SpillPath string `koanf:"spill_path"`

	// Race state cache.
	CacheTTL           time.Duration `koanf:"cache_ttl"`
	CacheMaxEntries    int           `koanf:"cache_max_entries"`
	CacheMemoryBudget  int64         `koanf:"cache_memory_budget"`
	CacheFlushInterval time.Duration `koanf:"cache_flush_interval"`
	CacheSweepInterval time.Duration `koanf:"cache_sweep_interval"`

	// EventQueueSize bounds the outbound event queue.
	EventQueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of event delivery workers.
	WorkerCount int `koanf:"worker_count"`

	// Bot simulator.
	BotTick                 time.Duration      `koanf:"bot_tick"`
	BotBroadcastInterval    time.Duration      `koanf:"bot_broadcast_interval"`
	BotTierWeights          map[string]float64 `koanf:"bot_tier_weights"`
	ChatMinInterval         time.Duration      `koanf:"chat_min_interval"`
	ChatResponseProbability float64            `koanf:"chat_response_probability"`
	// how long bots of a finished race keep answering chat
	ChatGrace time.Duration `koanf:"chat_grace"`

	// Keystroke anti-cheat thresholds.
	AnticheatMinSamples     int           `koanf:"anticheat_min_samples"`
	InhumanIntervalMS       float64       `koanf:"inhuman_interval_ms"`
	SuspectIntervalMS       float64       `koanf:"suspect_interval_ms"`
	BurstWindow             int           `koanf:"burst_window"`
	BurstFraction           float64       `koanf:"burst_fraction"`
	ProgrammaticVarianceMS  float64       `koanf:"programmatic_variance_ms"`
	ProgrammaticFraction    float64       `koanf:"programmatic_fraction"`
	UntrustedFraction       float64       `koanf:"untrusted_fraction"`
	WPMDiscrepancy          float64       `koanf:"wpm_discrepancy"`
	ChallengeWPMDiscrepancy float64       `koanf:"challenge_wpm_discrepancy"`
	PerfectAccuracyWPM      float64       `koanf:"perfect_accuracy_wpm"`
	UncertifiedCeilingWPM   float64       `koanf:"uncertified_ceiling_wpm"`
	CertificationTolerance  float64       `koanf:"certification_tolerance"`
	CertificationMultiplier float64       `koanf:"certification_multiplier"`
	ChallengeTTL            time.Duration `koanf:"challenge_ttl"`

	// Rating engine.
	KProvisional     int           `koanf:"k_provisional"`
	KIntermediate    int           `koanf:"k_intermediate"`
	KEstablished     int           `koanf:"k_established"`
	ProvisionalGames int           `koanf:"provisional_games"`
	EstablishedRaces int           `koanf:"established_races"`
	InitialRating    int           `koanf:"initial_rating"`
	RatingMin        int           `koanf:"rating_min"`
	RatingMax        int           `koanf:"rating_max"`
	RatingDedupeTTL  time.Duration `koanf:"rating_dedupe_ttl"`

	// Inactivity decay.
	DecayGrace    time.Duration `koanf:"decay_grace"`
	DecayStep     time.Duration `koanf:"decay_step"`
	DecayAmount   int           `koanf:"decay_amount"`
	DecayCap      int           `koanf:"decay_cap"`
	DecayFloor    int           `koanf:"decay_floor"`
	DecayInterval time.Duration `koanf:"decay_interval"`

	// Stale race reaper.
	ReaperInterval     time.Duration `koanf:"reaper_interval"`
	ReaperInitialDelay time.Duration `koanf:"reaper_initial_delay"`
	WaitingTimeout     time.Duration `koanf:"waiting_timeout"`
	CountdownTimeout   time.Duration `koanf:"countdown_timeout"`
	RacingTimeout      time.Duration `koanf:"racing_timeout"`
	FinishedRetention  time.Duration `koanf:"finished_retention"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:    "info",
		LogFormat:   "text",
		Addr:        ":9080",
		StoreDriver: DriverMemory,

		CacheTTL:           30 * time.Minute,
		CacheMaxEntries:    10_000,
		CacheMemoryBudget:  64 << 20,
		CacheFlushInterval: 500 * time.Millisecond,
		CacheSweepInterval: time.Minute,

		EventQueueSize: 100_000,
		WorkerCount:    runtime.NumCPU() * 2,

		BotTick:              20 * time.Millisecond,
		BotBroadcastInterval: 250 * time.Millisecond,
		BotTierWeights: map[string]float64{
			"beginner":     1.5,
			"intermediate": 4,
			"advanced":     4,
			"expert":       2,
			"pro":          0.5,
		},
		ChatMinInterval:         3 * time.Second,
		ChatResponseProbability: 0.85,
		ChatGrace:               time.Minute,

		AnticheatMinSamples:     20,
		InhumanIntervalMS:       10,
		SuspectIntervalMS:       30,
		BurstWindow:             10,
		BurstFraction:           0.7,
		ProgrammaticVarianceMS:  2,
		ProgrammaticFraction:    0.9,
		UntrustedFraction:       0.1,
		WPMDiscrepancy:          15,
		ChallengeWPMDiscrepancy: 10,
		PerfectAccuracyWPM:      150,
		UncertifiedCeilingWPM:   180,
		CertificationTolerance:  1.1,
		CertificationMultiplier: 1.25,
		ChallengeTTL:            5 * time.Minute,

		KProvisional:     40,
		KIntermediate:    32,
		KEstablished:     24,
		ProvisionalGames: 10,
		EstablishedRaces: 30,
		InitialRating:    1000,
		RatingMin:        100,
		RatingMax:        3000,
		RatingDedupeTTL:  10 * time.Minute,

		DecayGrace:    14 * 24 * time.Hour,
		DecayStep:     7 * 24 * time.Hour,
		DecayAmount:   25,
		DecayCap:      200,
		DecayFloor:    1000,
		DecayInterval: 6 * time.Hour,

		ReaperInterval:     time.Minute,
		ReaperInitialDelay: 5 * time.Second,
		WaitingTimeout:     30 * time.Minute,
		CountdownTimeout:   2 * time.Minute,
		RacingTimeout:      15 * time.Minute,
		FinishedRetention:  24 * time.Hour,
	}
}
