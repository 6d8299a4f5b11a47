package repo

import (
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	RepoRoot   string     `mapstructure:"-" toml:"-"`
	Log        Log        `mapstructure:"log" toml:"log"`
	Database   Database   `mapstructure:"database" toml:"database"`
	Governance Governance `mapstructure:"governance" toml:"governance"`
	Sweeper    Sweeper    `mapstructure:"sweeper" toml:"sweeper"`
	Snapshot   Snapshot   `mapstructure:"snapshot" toml:"snapshot"`
	API        API        `mapstructure:"api" toml:"api"`
}

type Log struct {
	Level        string        `mapstructure:"level" toml:"level"`
	Filename     string        `mapstructure:"filename" toml:"filename"`
	ReportCaller bool          `mapstructure:"report_caller" toml:"report_caller"`
	MaxAge       time.Duration `mapstructure:"max_age" toml:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time" toml:"rotation_time"`
}

type Database struct {
	// relative paths are resolved against the repo root
	Dir      string `mapstructure:"dir" toml:"dir"`
	Filename string `mapstructure:"filename" toml:"filename"`
}

// Governance carries the tunables the promotion engine and the registration
// flow consume. They are read once at startup and passed explicitly.
type Governance struct {
	PromotionVotingDays       int     `mapstructure:"promotion_voting_days" toml:"promotion_voting_days"`
	PromotionCooldownDays     int     `mapstructure:"promotion_cooldown_days" toml:"promotion_cooldown_days"`
	DefaultQuorumPercent      float64 `mapstructure:"default_quorum_percent" toml:"default_quorum_percent"`
	DefaultPromotionThreshold float64 `mapstructure:"default_promotion_threshold" toml:"default_promotion_threshold"`
	// number of agents per constitution that are seated directly in tier 2
	BootstrapTier2Limit int    `mapstructure:"bootstrap_tier2_limit" toml:"bootstrap_tier2_limit"`
	DefaultConstitution string `mapstructure:"default_constitution" toml:"default_constitution"`
}

type Sweeper struct {
	Interval time.Duration `mapstructure:"interval" toml:"interval"`
	StateDir string        `mapstructure:"state_dir" toml:"state_dir"`
}

type Snapshot struct {
	Enabled      bool          `mapstructure:"enabled" toml:"enabled"`
	HubURL       string        `mapstructure:"hub_url" toml:"hub_url"`
	SequencerURL string        `mapstructure:"sequencer_url" toml:"sequencer_url"`
	Space        string        `mapstructure:"space" toml:"space"`
	Timeout      time.Duration `mapstructure:"timeout" toml:"timeout"`
	RetryLimit   uint          `mapstructure:"retry_limit" toml:"retry_limit"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" toml:"retry_backoff"`
}

type API struct {
	ListenAddr string `mapstructure:"listen_addr" toml:"listen_addr"`
}

func DefaultConfig(repoRoot string) *Config {
	return &Config{
		RepoRoot: repoRoot,
		Log: Log{
			Level:        "info",
			Filename:     "constitution.log",
			ReportCaller: false,
			MaxAge:       30 * 24 * time.Hour,
			RotationTime: 24 * time.Hour,
		},
		Database: Database{
			Dir:      "data",
			Filename: "constitution.db",
		},
		Governance: DefaultGovernance(),
		Sweeper: Sweeper{
			Interval: 5 * time.Minute,
			StateDir: "sweeper",
		},
		Snapshot: Snapshot{
			Enabled:      false,
			HubURL:       "https://hub.snapshot.org/graphql",
			SequencerURL: "https://seq.snapshot.org/",
			Space:        "",
			Timeout:      10 * time.Second,
			RetryLimit:   3,
			RetryBackoff: time.Second,
		},
		API: API{
			ListenAddr: "127.0.0.1:8645",
		},
	}
}

func DefaultGovernance() Governance {
	return Governance{
		PromotionVotingDays:       7,
		PromotionCooldownDays:     30,
		DefaultQuorumPercent:      0.5,
		DefaultPromotionThreshold: 0.67,
		BootstrapTier2Limit:       10,
		DefaultConstitution:       "default",
	}
}

func (g Governance) Validate() error {
	if g.PromotionVotingDays <= 0 {
		return errors.Errorf("promotion_voting_days must be positive, got %d", g.PromotionVotingDays)
	}
	if g.PromotionCooldownDays < 0 {
		return errors.Errorf("promotion_cooldown_days must not be negative, got %d", g.PromotionCooldownDays)
	}
	if g.DefaultQuorumPercent <= 0 || g.DefaultQuorumPercent > 1 {
		return errors.Errorf("default_quorum_percent must be in (0,1], got %v", g.DefaultQuorumPercent)
	}
	if g.DefaultPromotionThreshold <= 0 || g.DefaultPromotionThreshold > 1 {
		return errors.Errorf("default_promotion_threshold must be in (0,1], got %v", g.DefaultPromotionThreshold)
	}
	if g.BootstrapTier2Limit < 0 {
		return errors.Errorf("bootstrap_tier2_limit must not be negative, got %d", g.BootstrapTier2Limit)
	}
	if g.DefaultConstitution == "" {
		return errors.New("default_constitution must be set")
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.Governance.Validate(); err != nil {
		return errors.Wrap(err, "invalid governance config")
	}
	if c.Sweeper.Interval <= 0 {
		return errors.Errorf("sweeper interval must be positive, got %s", c.Sweeper.Interval)
	}
	if c.Snapshot.Enabled && c.Snapshot.HubURL == "" {
		return errors.New("snapshot hub_url is required when snapshot is enabled")
	}
	return nil
}
