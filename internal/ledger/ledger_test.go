package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jgoulah/dtumonitor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var berlin = time.FixedZone("CET", 3600)

func at(s string) time.Time {
	ts, err := time.ParseInLocation("2006-01-02T15:04:05", s, berlin)
	if err != nil {
		panic(err)
	}
	return ts
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "history_daily.json"), Options{Location: berlin})
}

func assertReading(t *testing.T, want, got models.Reading) {
	t.Helper()
	assert.True(t, want.Timestamp.Equal(got.Timestamp), "timestamp: want %s, got %s", want.Timestamp, got.Timestamp)
	assert.Equal(t, want.Power, got.Power, "power")
	assert.Equal(t, want.EnergyDaily, got.EnergyDaily, "energy_daily")
	assert.Equal(t, want.EnergyTotal, got.EnergyTotal, "energy_total")
}

func TestAppendToEmptyLedger(t *testing.T) {
	l := newTestLedger(t)
	r := models.Reading{Timestamp: at("2024-01-01T23:59:00"), Power: 100, EnergyDaily: 4.2, EnergyTotal: 12.5}

	stored, err := l.Append(r)
	require.NoError(t, err)
	assertReading(t, r, stored)
	assertReading(t, r, l.Latest())
}

func TestAppendResetsDailyAtDayBoundary(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Append(models.Reading{Timestamp: at("2024-01-01T23:59:00"), Power: 100, EnergyDaily: 4.2, EnergyTotal: 12.5})
	require.NoError(t, err)

	stored, err := l.Append(models.Reading{Timestamp: at("2024-01-02T00:05:00"), Power: 0, EnergyDaily: 0.3, EnergyTotal: 12.5})
	require.NoError(t, err)
	assert.Equal(t, 0.0, stored.EnergyDaily)
	assert.Equal(t, 0.0, l.Latest().EnergyDaily)
	assert.Equal(t, 12.5, l.Latest().EnergyTotal)

	// later readings on the same day are stored as reported
	stored, err = l.Append(models.Reading{Timestamp: at("2024-01-02T09:00:00"), Power: 300, EnergyDaily: 0.8, EnergyTotal: 12.51})
	require.NoError(t, err)
	assert.Equal(t, 0.8, stored.EnergyDaily)
}

func TestAppendDayBoundaryUsesLedgerLocation(t *testing.T) {
	l := newTestLedger(t)
	// 22:30 UTC is 23:30 in the ledger's zone, 23:30 UTC is 00:30 the next day
	_, err := l.Append(models.Reading{Timestamp: time.Date(2024, 3, 1, 22, 30, 0, 0, time.UTC), EnergyDaily: 5})
	require.NoError(t, err)
	stored, err := l.Append(models.Reading{Timestamp: time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC), EnergyDaily: 5.1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, stored.EnergyDaily)
}

func TestAppendPrunesOlderThanRetention(t *testing.T) {
	l := newTestLedger(t)
	start := at("2024-01-01T00:00:00")
	for i := 0; i <= 25; i++ {
		_, err := l.Append(models.Reading{Timestamp: start.Add(time.Duration(i) * time.Hour), Power: float64(i)})
		require.NoError(t, err)

		history := l.History()
		newest := history[len(history)-1].Timestamp
		for _, r := range history {
			assert.LessOrEqual(t, newest.Sub(r.Timestamp), 24*time.Hour)
		}
	}

	history := l.History()
	require.Len(t, history, 25)
	assert.True(t, history[0].Timestamp.Equal(start.Add(time.Hour)))
	assert.True(t, history[24].Timestamp.Equal(start.Add(25*time.Hour)))
}

func TestAppendRejectsOutOfOrder(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Append(models.Reading{Timestamp: at("2024-01-01T12:00:00"), Power: 200})
	require.NoError(t, err)

	_, err = l.Append(models.Reading{Timestamp: at("2024-01-01T11:00:00"), Power: 100})
	require.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, 200.0, l.Latest().Power)
	assert.Len(t, l.History(), 1)
}

func TestAppendDropsEntriesFarInFuture(t *testing.T) {
	l := newTestLedger(t)
	content := `[
  {"timestamp": "2024-01-01T09:00:00+01:00", "power": 50, "energy_daily": 0.5, "energy_total": 12.4},
  {"timestamp": "2099-01-01T10:00:00+01:00", "power": 1, "energy_daily": 0, "energy_total": 99}
]`
	require.NoError(t, os.WriteFile(l.Path(), []byte(content), 0644))

	for i, ts := range []string{"2024-01-01T10:00:00", "2024-01-01T11:00:00", "2024-01-01T12:00:00"} {
		_, err := l.Append(models.Reading{Timestamp: at(ts), Power: float64(100 + i), EnergyDaily: 1, EnergyTotal: 12.5})
		require.NoError(t, err, ts)
	}

	history := l.History()
	require.Len(t, history, 4)
	assert.True(t, history[0].Timestamp.Equal(at("2024-01-01T09:00:00")))
	assertReading(t, models.Reading{Timestamp: at("2024-01-01T12:00:00"), Power: 102, EnergyDaily: 1, EnergyTotal: 12.5}, l.Latest())
}

func TestAppendReplacesDuplicateTimestamp(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Append(models.Reading{Timestamp: at("2024-01-01T12:00:00"), Power: 200})
	require.NoError(t, err)
	_, err = l.Append(models.Reading{Timestamp: at("2024-01-01T12:00:00"), Power: 250})
	require.NoError(t, err)

	history := l.History()
	require.Len(t, history, 1)
	assert.Equal(t, 250.0, history[0].Power)
}

func TestAppendReplacingFirstEntryOfDayStillResets(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Append(models.Reading{Timestamp: at("2024-01-01T23:55:00"), EnergyDaily: 4})
	require.NoError(t, err)
	_, err = l.Append(models.Reading{Timestamp: at("2024-01-02T00:05:00"), EnergyDaily: 0.2})
	require.NoError(t, err)
	stored, err := l.Append(models.Reading{Timestamp: at("2024-01-02T00:05:00"), EnergyDaily: 0.3})
	require.NoError(t, err)
	assert.Equal(t, 0.0, stored.EnergyDaily)
}

func TestTotalFollowsSource(t *testing.T) {
	l := newTestLedger(t)
	totals := []float64{12.5, 12.5, 12.51, 12.6}
	prev := 0.0
	for i, total := range totals {
		stored, err := l.Append(models.Reading{Timestamp: at("2024-01-01T10:00:00").Add(time.Duration(i) * 5 * time.Minute), EnergyTotal: total})
		require.NoError(t, err)
		assert.Equal(t, total, stored.EnergyTotal)
		assert.GreaterOrEqual(t, l.Latest().EnergyTotal, prev)
		prev = l.Latest().EnergyTotal
	}
}

func TestLatestMissingFile(t *testing.T) {
	l := newTestLedger(t)
	assert.Equal(t, models.NoReading, l.Latest())
	assert.Empty(t, l.History())
}

func TestLatestCorruptFile(t *testing.T) {
	for name, content := range map[string]string{
		"garbage": "{not json",
		"empty":   "",
		"object":  `{"timestamp": "2024-01-01T10:00:00+01:00"}`,
	} {
		t.Run(name, func(t *testing.T) {
			l := newTestLedger(t)
			require.NoError(t, os.WriteFile(l.Path(), []byte(content), 0644))
			assert.Equal(t, models.NoReading, l.Latest())

			// a corrupt ledger is replaced on the next append
			_, err := l.Append(models.Reading{Timestamp: at("2024-01-01T10:00:00"), Power: 10})
			require.NoError(t, err)
			assert.Equal(t, 10.0, l.Latest().Power)
		})
	}
}

func TestLatestEmptyArray(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, os.WriteFile(l.Path(), []byte("[]"), 0644))
	assert.Equal(t, models.NoReading, l.Latest())
}

func TestLoadLegacyHelperFile(t *testing.T) {
	l := newTestLedger(t)
	legacy := `[
  {"timestamp": "2024-01-01 10:00", "power": 120, "energy_daily": 1.1, "energy_total": 12.4},
  {"timestamp": "not a time", "power": 1, "energy_daily": 1, "energy_total": 1},
  {"timestamp": "2024-01-01 10:05", "power": 130, "energy_daily": 1.2, "energy_total": 12.4}
]`
	require.NoError(t, os.WriteFile(l.Path(), []byte(legacy), 0644))

	history := l.History()
	require.Len(t, history, 2)
	assertReading(t, models.Reading{Timestamp: at("2024-01-01T10:05:00"), Power: 130, EnergyDaily: 1.2, EnergyTotal: 12.4}, l.Latest())
}

func TestLoadSkipsMistypedEntry(t *testing.T) {
	l := newTestLedger(t)
	content := `[
  {"timestamp": "2024-01-01T10:00:00+01:00", "power": 120, "energy_daily": 1.1, "energy_total": 12.4},
  {"timestamp": "2024-01-01T10:05:00+01:00", "power": "n/a", "energy_daily": 1.2, "energy_total": 12.4}
]`
	require.NoError(t, os.WriteFile(l.Path(), []byte(content), 0644))

	require.Len(t, l.History(), 1)
	assert.Equal(t, 120.0, l.Latest().Power)

	// the good entry survives the next append
	_, err := l.Append(models.Reading{Timestamp: at("2024-01-01T10:10:00"), Power: 130})
	require.NoError(t, err)
	assert.Len(t, l.History(), 2)
}

func TestLoadSortsEntries(t *testing.T) {
	l := newTestLedger(t)
	content := `[
  {"timestamp": "2024-01-01T10:05:00+01:00", "power": 2, "energy_daily": 0, "energy_total": 0},
  {"timestamp": "2024-01-01T10:00:00+01:00", "power": 1, "energy_daily": 0, "energy_total": 0}
]`
	require.NoError(t, os.WriteFile(l.Path(), []byte(content), 0644))
	assert.Equal(t, 2.0, l.Latest().Power)
}

func TestDurableAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history_daily.json")
	r := models.Reading{Timestamp: at("2024-06-01T13:37:00"), Power: 612, EnergyDaily: 3.33, EnergyTotal: 1.02}

	_, err := New(path, Options{Location: berlin}).Append(r)
	require.NoError(t, err)

	reopened := New(path, Options{Location: berlin})
	assertReading(t, r, reopened.Latest())

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary files should not be left behind")
}

func TestAppendTruncatesToSeconds(t *testing.T) {
	l := newTestLedger(t)
	ts := at("2024-06-01T13:37:00").Add(750 * time.Millisecond)
	stored, err := l.Append(models.Reading{Timestamp: ts, Power: 1})
	require.NoError(t, err)
	assert.True(t, stored.Timestamp.Equal(at("2024-06-01T13:37:00")))
	assertReading(t, stored, l.Latest())
}

func TestAppendWriteFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	l := New(filepath.Join(blocker, "history_daily.json"), Options{Location: berlin})
	r := models.Reading{Timestamp: at("2024-01-01T10:00:00"), Power: 42}
	stored, err := l.Append(r)
	require.ErrorIs(t, err, ErrWrite)
	assertReading(t, r, stored)
	assert.Equal(t, models.NoReading, l.Latest())
}
