package policy

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/book-harvester/internal/catalog"
	"github.com/feichai0017/book-harvester/internal/models"
)

type fakeFonts struct {
	missing map[string]bool
	asked   [][]string
}

func (f *fakeFonts) StillMissing(fonts []string) []string {
	f.asked = append(f.asked, fonts)
	var out []string
	for _, name := range fonts {
		if f.missing[name] {
			out = append(out, name)
		}
	}
	return out
}

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func record(state models.HarvestState, ver string) *models.DocumentRecord {
	return &models.DocumentRecord{
		ID:               "book1",
		InCirculation:    true,
		HarvestState:     state,
		HarvesterVersion: ver,
	}
}

func TestShouldProcess(t *testing.T) {
	tests := []struct {
		name    string
		rec     *models.DocumentRecord
		mode    Mode
		current string
		process bool
	}{
		{"new", record(models.StateNew, ""), ModeDefault, "2.0", true},
		{"updated", record(models.StateUpdated, "1.0"), ModeDefault, "2.0", true},
		{"requested", record(models.StateRequested, "3.0"), ModeDefault, "2.0", true},
		{"unknown", record(models.StateUnknown, ""), ModeDefault, "2.0", true},
		{"done same major", record(models.StateDone, "2.1"), ModeDefault, "2.5", false},
		{"done newer major", record(models.StateDone, "2.9"), ModeDefault, "3.0", true},
		{"done by newer", record(models.StateDone, "4.0"), ModeDefault, "3.0", false},
		{"aborted same version", record(models.StateAborted, "2.0"), ModeDefault, "2.0", true},
		{"aborted by newer", record(models.StateAborted, "3.0"), ModeDefault, "2.0", false},
		{"failed same version", record(models.StateFailed, "2.0"), ModeDefault, "2.0", false},
		{"failed older version", record(models.StateFailed, "1.4"), ModeDefault, "2.0", true},
		{"failed permanently", record(models.StateFailedPermanently, "1.0"), ModeDefault, "2.0", false},
		{"failed permanently all", record(models.StateFailedPermanently, "1.0"), ModeAll, "2.0", false},
		{"failed permanently needed", record(models.StateFailedPermanently, "1.0"), ModeNeededOnly, "2.0", false},
		{"failed permanently retry", record(models.StateFailedPermanently, "1.0"), ModeRetryFailures, "2.0", false},
		{"failed permanently forced", record(models.StateFailedPermanently, "1.0"), ModeForceAll, "2.0", true},
		{"all done", record(models.StateDone, "2.0"), ModeAll, "2.0", true},
		{"needed new", record(models.StateNew, ""), ModeNeededOnly, "2.0", true},
		{"needed requested", record(models.StateRequested, "2.0"), ModeNeededOnly, "2.0", true},
		{"needed done", record(models.StateDone, "1.0"), ModeNeededOnly, "2.0", false},
		{"needed failed", record(models.StateFailed, "1.0"), ModeNeededOnly, "2.0", false},
		{"retry failed same", record(models.StateFailed, "2.0"), ModeRetryFailures, "2.0", true},
		{"retry by newer", record(models.StateFailed, "3.0"), ModeRetryFailures, "2.0", false},
	}

	p := New(&fakeFonts{}, WithClock(clock))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.ShouldProcess(tt.rec, tt.mode, tt.current)
			assert.Equal(t, tt.process, d.Process, d.Reason)
			assert.NotEmpty(t, d.Reason)
			assert.False(t, d.Stale)
		})
	}
}

func TestOutOfCirculation(t *testing.T) {
	p := New(nil, WithClock(clock))
	rec := record(models.StateNew, "")
	rec.InCirculation = false

	for _, mode := range []Mode{ModeDefault, ModeAll, ModeNeededOnly, ModeRetryFailures} {
		d := p.ShouldProcess(rec, mode, "2.0")
		assert.False(t, d.Process, mode)
		assert.Equal(t, "not in circulation", d.Reason)
	}
	assert.True(t, p.ShouldProcess(rec, ModeForceAll, "2.0").Process)
}

func TestInProgress(t *testing.T) {
	p := New(nil, WithClock(clock))

	t.Run("recent", func(t *testing.T) {
		rec := record(models.StateInProgress, "2.0")
		rec.HarvestStartedAt = now.Add(-time.Hour)
		d := p.ShouldProcess(rec, ModeDefault, "2.0")
		assert.False(t, d.Process)
		assert.False(t, d.Stale)
		assert.Contains(t, d.Reason, "in progress since")
	})

	t.Run("recent in all mode", func(t *testing.T) {
		rec := record(models.StateInProgress, "2.0")
		rec.HarvestStartedAt = now.Add(-StaleAfter)
		d := p.ShouldProcess(rec, ModeAll, "2.0")
		assert.False(t, d.Process)
	})

	t.Run("stale", func(t *testing.T) {
		rec := record(models.StateInProgress, "2.0")
		rec.HarvestStartedAt = now.Add(-StaleAfter - time.Minute)
		d := p.ShouldProcess(rec, ModeDefault, "2.0")
		assert.True(t, d.Process)
		assert.True(t, d.Stale)
	})

	t.Run("stale by newer version", func(t *testing.T) {
		rec := record(models.StateInProgress, "3.0")
		rec.HarvestStartedAt = now.Add(-72 * time.Hour)
		d := p.ShouldProcess(rec, ModeDefault, "2.0")
		assert.False(t, d.Process)
		assert.True(t, d.Stale)
	})

	t.Run("never started", func(t *testing.T) {
		d := p.ShouldProcess(record(models.StateInProgress, "1.0"), ModeNeededOnly, "2.0")
		assert.False(t, d.Process)
		assert.True(t, d.Stale)
	})
}

func TestFailedMissingFont(t *testing.T) {
	fonts := &fakeFonts{missing: map[string]bool{"Andika": true}}
	p := New(fonts, WithClock(clock))

	rec := record(models.StateFailed, "1.0")
	rec.HarvestLog = []models.LogEntry{
		{Level: models.LogError, Type: models.LogTypeMissingFont, Message: "Andika"},
		{Level: models.LogError, Type: models.LogTypeMissingFont, Message: "Charis SIL"},
		{Level: models.LogInfo, Type: models.LogTypeGeneral, Message: "rendered"},
	}

	d := p.ShouldProcess(rec, ModeDefault, "2.0")
	assert.False(t, d.Process)
	assert.Equal(t, "still missing font Andika", d.Reason)
	require.Len(t, fonts.asked, 1)
	assert.Equal(t, []string{"Andika", "Charis SIL"}, fonts.asked[0])

	fonts.missing = nil
	d = p.ShouldProcess(rec, ModeDefault, "2.0")
	assert.True(t, d.Process)
}

func TestShouldProcessDoesNotModifyRecord(t *testing.T) {
	p := New(&fakeFonts{}, WithClock(clock))
	rec := record(models.StateInProgress, "1.0")
	rec.Tags = []string{"topic:Animals"}
	rec.HarvestLog = []models.LogEntry{{Level: models.LogError, Type: models.LogTypeMissingFont, Message: "Andika"}}
	before := *rec

	for _, mode := range []Mode{ModeDefault, ModeAll, ModeForceAll, ModeNeededOnly, ModeRetryFailures} {
		p.ShouldProcess(rec, mode, "2.0")
	}
	assert.Equal(t, before, *rec)
}

func TestReasonsDiffer(t *testing.T) {
	p := New(nil, WithClock(clock))
	reasons := map[string]bool{}
	for _, state := range []models.HarvestState{
		models.StateNew, models.StateDone, models.StateAborted, models.StateFailed, models.StateFailedPermanently,
	} {
		d := p.ShouldProcess(record(state, "2.0"), ModeDefault, "2.0")
		assert.False(t, reasons[d.Reason], "duplicate reason %q", d.Reason)
		reasons[d.Reason] = true
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"":               ModeDefault,
		"default":        ModeDefault,
		"all":            ModeAll,
		"forceAll":       ModeForceAll,
		"force-all":      ModeForceAll,
		"NeededOnly":     ModeNeededOnly,
		"retry-failures": ModeRetryFailures,
	} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("sometimes")
	assert.Error(t, err)
}

func TestPrioritize(t *testing.T) {
	recs := []models.DocumentRecord{
		{ID: "d1", HarvestState: models.StateDone},
		{ID: "u1", HarvestState: models.StateUpdated},
		{ID: "n1", HarvestState: models.StateNew},
		{ID: "r1", HarvestState: models.StateRequested},
		{ID: "f1", HarvestState: models.StateFailed},
		{ID: "n2", HarvestState: models.StateNew},
		{ID: "r2", HarvestState: models.StateRequested},
		{ID: "u2", HarvestState: models.StateUpdated},
	}

	out := Prioritize(recs, rand.New(rand.NewPCG(1, 2)))
	require.Len(t, out, len(recs))

	var tiers []int
	for _, rec := range out {
		tiers = append(tiers, tier(rec.HarvestState))
	}
	assert.IsNonDecreasing(t, tiers)
	assert.ElementsMatch(t, []string{"r1", "r2"}, []string{out[0].ID, out[1].ID})
	assert.ElementsMatch(t, []string{"n1", "n2"}, []string{out[2].ID, out[3].ID})
	assert.ElementsMatch(t, []string{"u1", "u2"}, []string{out[4].ID, out[5].ID})
	assert.ElementsMatch(t, []string{"d1", "f1"}, []string{out[6].ID, out[7].ID})

	assert.Empty(t, Prioritize(nil, nil))
}

func TestQueryFilter(t *testing.T) {
	assert.Empty(t, QueryFilter(ModeForceAll))
	assert.Equal(t, catalog.Filter{"inCirculation": true}, QueryFilter(ModeAll))
	assert.Equal(t, catalog.Filter{
		"inCirculation": true,
		"harvestState":  models.StateFailed,
	}, QueryFilter(ModeRetryFailures))

	def := QueryFilter(ModeDefault)
	assert.Equal(t, true, def["inCirculation"])
	assert.Equal(t, catalog.Filter{"$ne": models.StateFailedPermanently}, def["harvestState"])

	needed := QueryFilter(ModeNeededOnly)
	assert.Equal(t, catalog.Filter{"$in": []models.HarvestState{
		models.StateNew, models.StateUpdated, models.StateRequested,
	}}, needed["harvestState"])
}

func TestCheckRequest(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		rec     models.DocumentRecord
		refused bool
	}{
		{"new", models.DocumentRecord{HarvestState: models.StateNew}, false},
		{"done", models.DocumentRecord{HarvestState: models.StateDone}, false},
		{"failed", models.DocumentRecord{HarvestState: models.StateFailed}, false},
		{"already requested", models.DocumentRecord{HarvestState: models.StateRequested}, false},
		{"failed permanently", models.DocumentRecord{HarvestState: models.StateFailedPermanently}, true},
		{"in progress", models.DocumentRecord{HarvestState: models.StateInProgress, HarvestStartedAt: at.Add(-time.Hour)}, true},
		{"in progress at threshold", models.DocumentRecord{HarvestState: models.StateInProgress, HarvestStartedAt: at.Add(-StaleAfter)}, true},
		{"stale in progress", models.DocumentRecord{HarvestState: models.StateInProgress, HarvestStartedAt: at.Add(-StaleAfter - time.Minute)}, false},
		{"in progress never started", models.DocumentRecord{HarvestState: models.StateInProgress}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckRequest(&tc.rec, at)
			if tc.refused {
				assert.ErrorIs(t, err, ErrNotRequestable)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
