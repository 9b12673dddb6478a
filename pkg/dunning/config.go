package dunning

import (
	"time"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// Config tunes the dunning pass.
type Config struct {
	Interval            time.Duration `env:"DUNNING_INTERVAL" envDefault:"1h"`
	Jitter              time.Duration `env:"DUNNING_JITTER" envDefault:"5m"`
	Workers             int           `env:"DUNNING_WORKERS" envDefault:"8"`
	MaxRetries          int           `env:"DUNNING_MAX_RETRIES" envDefault:"5"`
	EscalationThreshold int           `env:"DUNNING_ESCALATION_THRESHOLD" envDefault:"3"`
	RetryScheduleDays   []int         `env:"DUNNING_RETRY_SCHEDULE" envDefault:"0,1,3,7,14"`
	TrialGraceDays      int           `env:"DUNNING_TRIAL_GRACE_DAYS" envDefault:"3"`
	IncompleteTTL       time.Duration `env:"DUNNING_INCOMPLETE_TTL" envDefault:"23h"`
	BatchSize           int           `env:"DUNNING_BATCH_SIZE" envDefault:"500"`
	ChargesPerSecond    float64       `env:"DUNNING_CHARGES_PER_SECOND" envDefault:"10"`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		Interval:            time.Hour,
		Jitter:              5 * time.Minute,
		Workers:             8,
		MaxRetries:          5,
		EscalationThreshold: 3,
		RetryScheduleDays:   []int{0, 1, 3, 7, 14},
		TrialGraceDays:      3,
		IncompleteTTL:       23 * time.Hour,
		BatchSize:           500,
		ChargesPerSecond:    10,
	}
}

// RetryPolicy is the policy the subscription service must be built with so
// that the pass and the service agree on when retries are exhausted.
func (c Config) RetryPolicy() subscription.RetryPolicy {
	return subscription.RetryPolicy{
		MaxRetries:   c.MaxRetries,
		ScheduleDays: append([]int(nil), c.RetryScheduleDays...),
	}
}

func (c Config) trialGrace() time.Duration {
	return time.Duration(c.TrialGraceDays) * 24 * time.Hour
}
