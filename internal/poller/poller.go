package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jgoulah/dtumonitor/internal/ledger"
	"github.com/jgoulah/dtumonitor/internal/source"
	"github.com/jgoulah/dtumonitor/pkg/models"
	"go.uber.org/zap"
)

// Ledger is the history store the poller appends to
type Ledger interface {
	Append(r models.Reading) (models.Reading, error)
	Latest() models.Reading
	History() []models.Reading
}

// Notifier receives the "data updated" signal after each stored reading
type Notifier interface {
	Notify(ctx context.Context, r models.Reading) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, r models.Reading) error

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, r models.Reading) error {
	return f(ctx, r)
}

// Options configures a Poller
type Options struct {
	Request       source.Request
	Location      *time.Location   // Calendar for the night fallback's day check (default: time.Local)
	NightFallback bool             // Keep last known energy values while the DTU is off
	Now           func() time.Time // Default: time.Now
	Logger        *zap.Logger
}

// Poller runs one fetch-and-append cycle at a time
type Poller struct {
	src       source.Source
	ledger    Ledger
	opts      Options
	notifiers []Notifier
	logger    *zap.Logger

	mu      sync.Mutex
	pending models.Reading // Reading that could not be persisted
}

// New creates a poller reading from src into l
func New(src source.Source, l Ledger, opts Options, notifiers ...Notifier) *Poller {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		src:       src,
		ledger:    l,
		opts:      opts,
		notifiers: notifiers,
		logger:    logger,
	}
}

// AddNotifier registers n for future cycles. Not safe to call while a
// cycle is running.
func (p *Poller) AddNotifier(n Notifier) {
	p.notifiers = append(p.notifiers, n)
}

// Cycle fetches one reading and appends it to the ledger. When the source is
// unreachable nothing is appended and the error wraps source.ErrUnreachable.
// When persisting fails the reading is still announced to notifiers and kept
// in memory, and the error wraps ledger.ErrWrite.
func (p *Poller) Cycle(ctx context.Context) error {
	r, err := p.src.Read(ctx, p.opts.Request)
	if err != nil {
		return fmt.Errorf("reading DTU %s: %w", p.opts.Request.Address, err)
	}
	r.Timestamp = p.opts.Now()
	r = r.Rounded()

	if p.opts.NightFallback {
		r = nightFallback(r, p.Latest(), p.opts.Location)
	}

	stored, err := p.ledger.Append(r)
	switch {
	case errors.Is(err, ledger.ErrWrite):
		p.logger.Error("could not persist reading, keeping it in memory", zap.Error(err))
		p.setPending(stored)
	case err != nil:
		p.logger.Warn("reading not appended", zap.Error(err))
		return fmt.Errorf("appending reading: %w", err)
	default:
		p.setPending(models.NoReading)
	}

	p.logger.Info("reading stored",
		zap.Time("timestamp", stored.Timestamp),
		zap.Float64("power", stored.Power),
		zap.Float64("energy_daily", stored.EnergyDaily),
		zap.Float64("energy_total", stored.EnergyTotal),
	)
	p.notify(ctx, stored)
	return err
}

// Latest returns the newest reading: the unpersisted one from a failed write
// if it is newer than the ledger, otherwise the ledger's.
func (p *Poller) Latest() models.Reading {
	latest := p.ledger.Latest()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending.Known() && p.pending.Timestamp.After(latest.Timestamp) {
		return p.pending
	}
	return latest
}

// History returns the ledger's retained readings
func (p *Poller) History() []models.Reading {
	return p.ledger.History()
}

func (p *Poller) setPending(r models.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = r
}

func (p *Poller) notify(ctx context.Context, r models.Reading) {
	for _, n := range p.notifiers {
		if err := n.Notify(ctx, r); err != nil {
			p.logger.Warn("notifier failed", zap.Error(err))
		}
	}
}

// nightFallback carries the previous reading's counters over while the DTU
// reports zeros: the daily counter is kept when power and daily energy are
// both 0 on the same day, and the lifetime counter never goes backwards.
func nightFallback(r, prev models.Reading, loc *time.Location) models.Reading {
	if !prev.Known() || prev.Timestamp.After(r.Timestamp) {
		return r
	}
	if r.EnergyTotal < prev.EnergyTotal {
		r.EnergyTotal = prev.EnergyTotal
	}
	if models.SameDay(prev.Timestamp, r.Timestamp, loc) && r.Power == 0 && r.EnergyDaily == 0 {
		r.EnergyDaily = prev.EnergyDaily
	}
	return r
}
