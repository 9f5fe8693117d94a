package ledger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/jgoulah/dtumonitor/pkg/models"
	"go.uber.org/zap"
)

// DefaultRetention is how far back the ledger keeps readings, measured from
// the newest entry
const DefaultRetention = 24 * time.Hour

// legacyTimestampFormat is the minute-resolution local format written by the
// python helper
const legacyTimestampFormat = "2006-01-02 15:04"

var (
	// ErrOutOfOrder is returned when a reading is older than the newest entry
	ErrOutOfOrder = errors.New("reading is older than newest ledger entry")
	// ErrWrite is returned when the ledger could not be persisted. The
	// reading returned alongside it is still valid for display.
	ErrWrite = errors.New("writing ledger")
)

// Options configures a Ledger
type Options struct {
	Location  *time.Location // Calendar used for day boundaries (default: time.Local)
	Retention time.Duration  // Default: DefaultRetention
	Logger    *zap.Logger
}

// Ledger is the rolling, file-backed history of readings. It exclusively owns
// the file at path and assumes it is the only writer.
type Ledger struct {
	path      string
	loc       *time.Location
	retention time.Duration
	logger    *zap.Logger

	mu sync.Mutex
}

// entry is the on-disk shape of a reading
type entry struct {
	Timestamp   string  `json:"timestamp"`
	Power       float64 `json:"power"`
	EnergyDaily float64 `json:"energy_daily"`
	EnergyTotal float64 `json:"energy_total"`
}

// New creates a ledger backed by the JSON file at path
func New(path string, opts Options) *Ledger {
	l := &Ledger{
		path:      path,
		loc:       opts.Location,
		retention: opts.Retention,
		logger:    opts.Logger,
	}
	if l.loc == nil {
		l.loc = time.Local
	}
	if l.retention <= 0 {
		l.retention = DefaultRetention
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	l.logger = l.logger.With(zap.String("ledger", path))
	return l
}

// Path returns the file backing the ledger
func (l *Ledger) Path() string {
	return l.path
}

// Append adds r to the ledger, prunes entries that fell out of the retention
// window and persists the result.
//
// If r is dated on a later local calendar day than the newest entry, its
// daily energy is stored as 0. A reading with the same timestamp as the
// newest entry replaces it; an older one is rejected with ErrOutOfOrder.
// Entries more than one retention window ahead of r are treated as corrupt
// (a clock jump or hand edit) and dropped instead.
//
// The stored reading is returned even when persisting fails (ErrWrite).
func (l *Ledger) Append(r models.Reading) (models.Reading, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r.Timestamp = r.Timestamp.Truncate(time.Second).In(l.loc)

	entries := l.load()
	if n := len(entries); n > 0 {
		last := entries[n-1]
		if r.Timestamp.Before(last.Timestamp) {
			if last.Timestamp.Sub(r.Timestamp) <= l.retention {
				return models.NoReading, fmt.Errorf("%w: %s before %s", ErrOutOfOrder,
					r.Timestamp.Format(time.RFC3339), last.Timestamp.Format(time.RFC3339))
			}
			entries = dropAfter(entries, r.Timestamp)
			l.logger.Warn("dropping ledger entries dated too far ahead of the new reading",
				zap.Int("dropped", n-len(entries)),
				zap.Time("newest", last.Timestamp),
				zap.Time("timestamp", r.Timestamp),
			)
		}
	}
	if n := len(entries); n > 0 {
		last := entries[n-1]
		if r.Timestamp.Equal(last.Timestamp) {
			l.logger.Debug("replacing entry with identical timestamp", zap.Time("timestamp", r.Timestamp))
			entries = entries[:n-1]
		}
	}

	if n := len(entries); n > 0 && !models.SameDay(entries[n-1].Timestamp, r.Timestamp, l.loc) {
		if r.EnergyDaily != 0 {
			l.logger.Info("day boundary crossed, resetting daily energy",
				zap.Float64("reported", r.EnergyDaily),
				zap.Time("previous", entries[n-1].Timestamp),
				zap.Time("timestamp", r.Timestamp),
			)
		}
		r.EnergyDaily = 0
	}

	entries = append(entries, r)
	entries = prune(entries, r.Timestamp.Add(-l.retention))

	if err := l.write(entries); err != nil {
		return r, fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return r, nil
}

// Latest returns the newest reading, or models.NoReading if the ledger is
// empty, missing or unreadable
func (l *Ledger) Latest() models.Reading {
	entries := l.load()
	if len(entries) == 0 {
		return models.NoReading
	}
	return entries[len(entries)-1]
}

// History returns all retained readings in chronological order
func (l *Ledger) History() []models.Reading {
	return l.load()
}

// dropAfter drops every entry newer than ts. entries must be sorted.
func dropAfter(entries []models.Reading, ts time.Time) []models.Reading {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Timestamp.After(ts)
	})
	return entries[:i]
}

// prune drops every entry older than cutoff. entries must be sorted.
func prune(entries []models.Reading, cutoff time.Time) []models.Reading {
	i := sort.Search(len(entries), func(i int) bool {
		return !entries[i].Timestamp.Before(cutoff)
	})
	return entries[i:]
}

// load reads the ledger file. Any problem with it degrades to an empty ledger.
func (l *Ledger) load() []models.Reading {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Debug("ledger file does not exist, starting empty")
		} else {
			l.logger.Warn("could not read ledger, starting empty", zap.Error(err))
		}
		return nil
	}

	var raw []jsontext.Value
	if err := json.Unmarshal(data, &raw); err != nil {
		l.logger.Warn("could not parse ledger, starting empty", zap.Error(err))
		return nil
	}

	entries := make([]models.Reading, 0, len(raw))
	for i, v := range raw {
		var e entry
		if err := json.Unmarshal(v, &e); err != nil {
			l.logger.Warn("ignoring malformed ledger entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		ts, err := l.parseTimestamp(e.Timestamp)
		if err != nil {
			l.logger.Warn("ignoring malformed ledger entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		entries = append(entries, models.Reading{
			Timestamp:   ts,
			Power:       e.Power,
			EnergyDaily: e.EnergyDaily,
			EnergyTotal: e.EnergyTotal,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries
}

func (l *Ledger) parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.In(l.loc), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", legacyTimestampFormat} {
		if ts, err := time.ParseInLocation(layout, s, l.loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// write replaces the ledger file atomically: the new content goes to a
// temporary file in the same directory which is then renamed over the old one.
func (l *Ledger) write(entries []models.Reading) error {
	raw := make([]entry, len(entries))
	for i, r := range entries {
		raw[i] = entry{
			Timestamp:   r.Timestamp.In(l.loc).Format(time.RFC3339),
			Power:       r.Power,
			EnergyDaily: r.EnergyDaily,
			EnergyTotal: r.EnergyTotal,
		}
	}

	data, err := json.Marshal(raw, jsontext.WithIndent("  "))
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("replacing ledger file: %w", err)
	}
	return nil
}
