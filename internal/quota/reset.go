package quota

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type UsageResetter interface {
	ResetDaily(ctx context.Context) (int64, error)
	ResetMonthly(ctx context.Context) (int64, error)
}

type CredentialResetter interface {
	ResetQuota(ctx context.Context) (int64, error)
}

// ResetJob zeroes daily counters at every UTC midnight and monthly counters
// when that midnight is the first of a month.
type ResetJob struct {
	Accounts    UsageResetter
	Credentials CredentialResetter
	Log         zerolog.Logger
	Now         func() time.Time
}

func (j *ResetJob) now() time.Time {
	if j.Now != nil {
		return j.Now().UTC()
	}
	return time.Now().UTC()
}

func nextMidnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// Run blocks until ctx is done.
func (j *ResetJob) Run(ctx context.Context) {
	log := j.Log.With().Str("component", "quota_reset").Logger()
	for {
		next := nextMidnight(j.now())
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			log.Info().Msg("quota reset job stopped")
			return
		case <-t.C:
			if err := j.ResetAt(ctx, next); err != nil {
				log.Error().Err(err).Time("boundary", next).Msg("quota reset failed")
			}
		}
	}
}

// ResetAt applies the resets due at boundary.
func (j *ResetJob) ResetAt(ctx context.Context, boundary time.Time) error {
	log := j.Log.With().Str("component", "quota_reset").Logger()

	n, err := j.Accounts.ResetDaily(ctx)
	if err != nil {
		return err
	}
	log.Info().Int64("accounts", n).Msg("daily usage reset")

	if boundary.UTC().Day() != 1 {
		return nil
	}
	n, err = j.Accounts.ResetMonthly(ctx)
	if err != nil {
		return err
	}
	log.Info().Int64("accounts", n).Msg("monthly usage reset")

	if j.Credentials == nil {
		return nil
	}
	n, err = j.Credentials.ResetQuota(ctx)
	if err != nil {
		return err
	}
	log.Info().Int64("credentials", n).Msg("credential quota reset")
	return nil
}
