package quota

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/wagateway/internal/errors"
	"github.com/unclebandit/wagateway/internal/metrics"
)

type Kind string

const (
	KindAccount    Kind = "account"
	KindCredential Kind = "credential"
)

// Key identifies one independently accounted quota owner.
type Key struct {
	Kind Kind
	ID   int64
}

func AccountKey(id int64) Key    { return Key{Kind: KindAccount, ID: id} }
func CredentialKey(id int64) Key { return Key{Kind: KindCredential, ID: id} }

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// Bucket is one limit of a key as currently persisted.
type Bucket struct {
	Name  string
	Limit int
	Used  int
}

// UsageLoader reads the persisted counters of a key. It is called with the
// key's lock held.
type UsageLoader interface {
	LoadUsage(ctx context.Context, key Key) ([]Bucket, error)
}

// Backend provides the per-key critical section and the units currently
// held by open reservations.
type Backend interface {
	Lock(ctx context.Context, key Key) (unlock func(), err error)
	Held(ctx context.Context, key Key) (int, error)
	AddHeld(ctx context.Context, key Key, delta int) error
}

var (
	ErrReservationSettled = errors.New("reservation already committed or released")
	ErrCommitExceedsHold  = errors.New("commit units exceed reserved units")
)

type Ledger struct {
	backend Backend
	loader  UsageLoader
	log     zerolog.Logger
}

func NewLedger(backend Backend, loader UsageLoader, log zerolog.Logger) *Ledger {
	return &Ledger{
		backend: backend,
		loader:  loader,
		log:     log.With().Str("component", "quota").Logger(),
	}
}

// Reservation is a hold of Units against one key. It must be settled exactly
// once through CommitAll or ReleaseAll.
type Reservation struct {
	Key   Key
	Units int

	mu      sync.Mutex
	settled bool
}

func (r *Reservation) settle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return false
	}
	r.settled = true
	return true
}

func (r *Reservation) Settled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settled
}

// TryReserve holds units against key when every bucket of the key still has
// room for them. It returns a QuotaExceededError naming the first exhausted
// bucket otherwise.
func (l *Ledger) TryReserve(ctx context.Context, key Key, units int) (*Reservation, error) {
	if units <= 0 {
		return nil, fmt.Errorf("reserve %s: units must be positive, got %d", key, units)
	}

	unlock, err := l.backend.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	defer unlock()

	buckets, err := l.loader.LoadUsage(ctx, key)
	if err != nil {
		return nil, err
	}
	held, err := l.backend.Held(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read holds %s: %w", key, err)
	}

	for _, b := range buckets {
		if b.Used+held+units > b.Limit {
			metrics.IncQuotaRejection(b.Name)
			l.log.Debug().
				Str("key", key.String()).
				Str("bucket", b.Name).
				Int("limit", b.Limit).
				Int("used", b.Used).
				Int("held", held).
				Int("requested", units).
				Msg("reservation rejected")
			return nil, appErrors.NewQuotaExceeded(b.Name, b.Limit-b.Used-held)
		}
	}

	if err := l.backend.AddHeld(ctx, key, units); err != nil {
		return nil, fmt.Errorf("hold %s: %w", key, err)
	}
	return &Reservation{Key: key, Units: units}, nil
}

type Reservations []*Reservation

// ReserveAll reserves units on every key or on none of them.
func (l *Ledger) ReserveAll(ctx context.Context, units int, keys ...Key) (Reservations, error) {
	rs := make(Reservations, 0, len(keys))
	for _, k := range keys {
		r, err := l.TryReserve(ctx, k, units)
		if err != nil {
			if rerr := l.ReleaseAll(context.WithoutCancel(ctx), rs); rerr != nil {
				l.log.Error().Err(rerr).Msg("rollback of partial reservation failed")
			}
			return nil, err
		}
		rs = append(rs, r)
	}
	return rs, nil
}

// CommitAll charges units (at most the reserved amount) on every reservation.
// apply performs the durable counter update and runs while all keys are
// locked, so no reservation can observe the debit and the hold at once.
// When apply fails the holds are released and its error is returned.
// Committing zero units is a release.
func (l *Ledger) CommitAll(ctx context.Context, rs Reservations, units int, apply func(ctx context.Context) error) error {
	if units == 0 {
		return l.ReleaseAll(ctx, rs)
	}
	for _, r := range rs {
		if units > r.Units {
			return fmt.Errorf("commit %s: %w", r.Key, ErrCommitExceedsHold)
		}
		if r.Settled() {
			return fmt.Errorf("commit %s: %w", r.Key, ErrReservationSettled)
		}
	}

	ordered := make(Reservations, len(rs))
	copy(ordered, rs)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Key.String() < ordered[j].Key.String()
	})

	unlocks := make([]func(), 0, len(ordered))
	defer func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}()
	for _, r := range ordered {
		unlock, err := l.backend.Lock(ctx, r.Key)
		if err != nil {
			if rerr := l.release(context.WithoutCancel(ctx), rs); rerr != nil {
				l.log.Error().Err(rerr).Msg("release after failed commit lock")
			}
			return fmt.Errorf("lock %s: %w", r.Key, err)
		}
		unlocks = append(unlocks, unlock)
	}

	if err := apply(ctx); err != nil {
		if rerr := l.release(context.WithoutCancel(ctx), rs); rerr != nil {
			l.log.Error().Err(rerr).Msg("release after failed commit")
		}
		return err
	}
	return l.release(context.WithoutCancel(ctx), rs)
}

// ReleaseAll drops every hold. Already settled reservations are skipped.
func (l *Ledger) ReleaseAll(ctx context.Context, rs Reservations) error {
	return l.release(ctx, rs)
}

func (l *Ledger) release(ctx context.Context, rs Reservations) error {
	var result *multierror.Error
	for _, r := range rs {
		if r == nil || !r.settle() {
			continue
		}
		if err := l.backend.AddHeld(ctx, r.Key, -r.Units); err != nil {
			result = multierror.Append(result, fmt.Errorf("release %s: %w", r.Key, err))
		}
	}
	return result.ErrorOrNil()
}
