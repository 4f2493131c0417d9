package runner

import "github.com/cenkalti/backoff/v4"

// newOpenBackoff builds the retry schedule for connector opens:
// exponential growth from BackoffBase, capped at BackoffMax, with
// BackoffJitter randomization. MaxElapsedTime is disabled; how long to
// keep retrying is decided by error class, not wall time.
func newOpenBackoff(cfg Config) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BackoffBase
	bo.MaxInterval = cfg.BackoffMax
	bo.RandomizationFactor = cfg.BackoffJitter
	bo.Multiplier = 2.0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
