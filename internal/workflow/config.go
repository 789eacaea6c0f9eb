package workflow

import "time"

// Config holds the timing and retry policy for session workflows.
type Config struct {
	// ProvisionTimeout is the budget from entering provisioning until the
	// renderer reports streaming. Exceeding it fails the session.
	ProvisionTimeout time.Duration

	// PollInterval is the base health-poll interval while provisioning or
	// active.
	PollInterval time.Duration

	// PollJitter is the maximum random delay added to each poll to avoid
	// thundering-herd against the renderer fleet.
	PollJitter time.Duration

	// RetryAttempts bounds retries of a transport-failed health or
	// terminate call before it is treated as failed.
	RetryAttempts int

	// RetryBaseDelay is the first retry delay; each subsequent retry
	// doubles it.
	RetryBaseDelay time.Duration

	// CallTimeout bounds each individual renderer call issued by a runner.
	CallTimeout time.Duration

	// SweepSchedule is the cron schedule of the orphan sweep.
	SweepSchedule string

	// StalenessThreshold marks an active-listed session with no live
	// runner as orphaned once its UpdatedAt is older than this.
	StalenessThreshold time.Duration

	// MaxConcurrentResumes bounds parallel resume work during engine
	// recovery and sweeps.
	MaxConcurrentResumes int
}

// DefaultConfig returns the default workflow policy.
func DefaultConfig() Config {
	return Config{
		ProvisionTimeout:     45 * time.Second,
		PollInterval:         3 * time.Second,
		PollJitter:           500 * time.Millisecond,
		RetryAttempts:        4,
		RetryBaseDelay:       500 * time.Millisecond,
		CallTimeout:          10 * time.Second,
		SweepSchedule:        "@every 1m",
		StalenessThreshold:   2 * time.Minute,
		MaxConcurrentResumes: 8,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ProvisionTimeout <= 0 {
		c.ProvisionTimeout = def.ProvisionTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.PollJitter < 0 {
		c.PollJitter = def.PollJitter
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = def.RetryAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = def.RetryBaseDelay
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = def.SweepSchedule
	}
	if c.StalenessThreshold <= 0 {
		c.StalenessThreshold = def.StalenessThreshold
	}
	if c.MaxConcurrentResumes <= 0 {
		c.MaxConcurrentResumes = def.MaxConcurrentResumes
	}
	return c
}
