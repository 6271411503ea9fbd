// Package policy decides whether a catalog record is due for harvesting in
// the current run and why.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/feichai0017/book-harvester/internal/models"
	"github.com/feichai0017/book-harvester/internal/version"
)

// Mode selects which records a run considers.
type Mode string

const (
	ModeDefault       Mode = "default"
	ModeAll           Mode = "all"
	ModeForceAll      Mode = "forceAll"
	ModeNeededOnly    Mode = "neededOnly"
	ModeRetryFailures Mode = "retryFailures"
)

// ParseMode accepts the mode names used in configuration.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "")) {
	case "", "default":
		return ModeDefault, nil
	case "all":
		return ModeAll, nil
	case "forceall":
		return ModeForceAll, nil
	case "neededonly":
		return ModeNeededOnly, nil
	case "retryfailures":
		return ModeRetryFailures, nil
	}
	return "", fmt.Errorf("unknown harvest mode %q", s)
}

// StaleAfter is how long an InProgress record may sit before it is treated
// as abandoned.
const StaleAfter = 48 * time.Hour

// FontChecker returns the subset of fonts that are still unavailable.
type FontChecker interface {
	StillMissing(fonts []string) []string
}

// Decision is the outcome of evaluating one record.
type Decision struct {
	Process bool
	Reason  string
	// Stale is set when the record was InProgress past StaleAfter.
	Stale bool
}

type input struct {
	rec     *models.DocumentRecord
	mode    Mode
	current string
	stale   bool
}

// rule yields a decision when it applies; otherwise evaluation moves on.
type rule struct {
	name    string
	outcome func(p *Policy, in *input) (Decision, bool)
}

// Policy evaluates records against an ordered rule table. It never modifies
// the record it is given.
type Policy struct {
	fonts FontChecker
	now   func() time.Time
	rules []rule
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock overrides the time source used for staleness.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		p.now = now
	}
}

func New(fonts FontChecker, opts ...Option) *Policy {
	p := &Policy{
		fonts: fonts,
		now:   time.Now,
		rules: rules,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ShouldProcess evaluates rec for a run of the given mode by harvester
// version current.
func (p *Policy) ShouldProcess(rec *models.DocumentRecord, mode Mode, current string) Decision {
	in := &input{rec: rec, mode: mode, current: version.Canonical(current)}
	for _, r := range p.rules {
		if d, ok := r.outcome(p, in); ok {
			d.Stale = d.Stale || in.stale
			return d
		}
	}
	// The default-mode rule covers every state, so this is unreachable.
	return Decision{Reason: fmt.Sprintf("no rule matched state %s", rec.HarvestState), Stale: in.stale}
}

func process(format string, args ...any) (Decision, bool) {
	return Decision{Process: true, Reason: fmt.Sprintf(format, args...)}, true
}

func skip(format string, args ...any) (Decision, bool) {
	return Decision{Process: false, Reason: fmt.Sprintf(format, args...)}, true
}

func recorded(in *input) string {
	return version.Canonical(in.rec.HarvesterVersion)
}

var rules = []rule{
	{"force all", func(_ *Policy, in *input) (Decision, bool) {
		if in.mode != ModeForceAll {
			return Decision{}, false
		}
		return process("forced: processing every book")
	}},
	{"failed permanently", func(_ *Policy, in *input) (Decision, bool) {
		if in.rec.HarvestState != models.StateFailedPermanently {
			return Decision{}, false
		}
		return skip("marked as failed permanently")
	}},
	{"out of circulation", func(_ *Policy, in *input) (Decision, bool) {
		if in.rec.InCirculation {
			return Decision{}, false
		}
		return skip("not in circulation")
	}},
	{"in progress", func(p *Policy, in *input) (Decision, bool) {
		if in.rec.HarvestState != models.StateInProgress {
			return Decision{}, false
		}
		started := in.rec.HarvestStartedAt
		if !started.IsZero() && p.now().Sub(started) <= StaleAfter {
			return skip("in progress since %s", started.UTC().Format(time.RFC3339))
		}
		// Possibly crashed; fall through with the stale flag set.
		in.stale = true
		return Decision{}, false
	}},
	{"all", func(_ *Policy, in *input) (Decision, bool) {
		if in.mode != ModeAll {
			return Decision{}, false
		}
		return process("processing all books in circulation (state %s)", in.rec.HarvestState)
	}},
	{"needed only", func(_ *Policy, in *input) (Decision, bool) {
		if in.mode != ModeNeededOnly {
			return Decision{}, false
		}
		switch in.rec.HarvestState {
		case models.StateNew, models.StateUpdated, models.StateRequested:
			return process("needed: state is %s", in.rec.HarvestState)
		}
		return skip("not needed: state is %s", in.rec.HarvestState)
	}},
	{"retry failures", func(_ *Policy, in *input) (Decision, bool) {
		if in.mode != ModeRetryFailures {
			return Decision{}, false
		}
		if version.Compare(recorded(in), in.current) > 0 {
			return skip("retry: last processed by newer version %s (current %s)", recorded(in), in.current)
		}
		return process("retry: last processed by version %s (current %s)", recorded(in), in.current)
	}},
	{"default", func(p *Policy, in *input) (Decision, bool) {
		return p.byState(in)
	}},
}

func (p *Policy) byState(in *input) (Decision, bool) {
	rec := in.rec
	last := recorded(in)
	cmp := version.Compare(in.current, last)

	switch rec.HarvestState {
	case models.StateNew, models.StateUpdated, models.StateRequested, models.StateUnknown:
		return process("state is %s", rec.HarvestState)

	case models.StateDone:
		if version.Major(in.current) > version.Major(last) {
			return process("done by %s; major version %d forces a metadata refresh", last, version.Major(in.current))
		}
		return skip("already done by version %s", last)

	case models.StateAborted:
		if cmp >= 0 {
			return process("aborted by version %s; retrying", last)
		}
		return skip("aborted by newer version %s", last)

	case models.StateInProgress:
		if cmp >= 0 {
			return process("stale in progress by version %s; retrying", last)
		}
		return skip("stale in progress by newer version %s", last)

	case models.StateFailed:
		if cmp <= 0 {
			return skip("failed by version %s; current version %s is not newer", last, in.current)
		}
		if fonts := rec.MissingFonts(); len(fonts) > 0 && p.fonts != nil {
			if missing := p.fonts.StillMissing(fonts); len(missing) > 0 {
				return skip("still missing font %s", strings.Join(missing, ", "))
			}
		}
		return process("failed by older version %s; retrying with %s", last, in.current)
	}
	return process("unrecognized state %q", rec.HarvestState)
}
