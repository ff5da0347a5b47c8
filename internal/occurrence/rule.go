package occurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"taskcal/internal/model"
)

// compiledRule is a task's recurrence rule, parsed once at ingestion and
// anchored in the task's zone.
type compiledRule struct {
	rule    *rrule.RRule
	opt     rrule.ROption
	loc     *time.Location
	bounded bool          // COUNT or UNTIL present
	period  time.Duration // one rule period, used as expansion slack
}

// scanBudgetFactor bounds how many instances collect may walk, skipped ones
// included, as a multiple of the per-task limit.
const scanBudgetFactor = 50

// normalizeRule strips an optional "RRULE:" prefix and surrounding space.
func normalizeRule(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.ContainsAny(s, "\r\n") {
		return "", errors.New("expected a single RRULE line")
	}
	if len(s) >= 6 && strings.EqualFold(s[:6], "RRULE:") {
		s = s[6:]
	}
	if s == "" {
		return "", errors.New("empty rule")
	}
	return s, nil
}

// compileRule parses t.RRule in loc and anchors it at the task's start.
func compileRule(t model.Task, loc *time.Location) (*compiledRule, error) {
	body, err := normalizeRule(t.RRule)
	if err != nil {
		return nil, &InvalidRuleError{TaskID: t.ID, Rule: t.RRule, Err: err}
	}

	opt, err := rrule.StrToROptionInLocation(body, loc)
	if err != nil {
		return nil, &InvalidRuleError{TaskID: t.ID, Rule: t.RRule, Err: err}
	}

	// The stored anchor wins over a DTSTART embedded in the rule text.
	switch {
	case t.DTStart.IsPresent():
		opt.Dtstart = t.DTStart.MustGet().In(loc)
	case t.ScheduledStart.IsPresent():
		opt.Dtstart = t.ScheduledStart.MustGet().In(loc)
	case !opt.Dtstart.IsZero():
		opt.Dtstart = opt.Dtstart.In(loc)
	default:
		// rrule-go would silently anchor at time.Now(), which breaks determinism.
		return nil, &InvalidRuleError{TaskID: t.ID, Rule: t.RRule, Reason: "missing DTSTART"}
	}

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, &InvalidRuleError{TaskID: t.ID, Rule: t.RRule, Err: err}
	}

	return &compiledRule{
		rule:    r,
		opt:     *opt,
		loc:     loc,
		bounded: opt.Count > 0 || !opt.Until.IsZero(),
		period:  rulePeriod(opt.Freq, opt.Interval),
	}, nil
}

// rulePeriod approximates one step of the rule from above.
func rulePeriod(freq rrule.Frequency, interval int) time.Duration {
	if interval < 1 {
		interval = 1
	}
	var unit time.Duration
	switch freq {
	case rrule.YEARLY:
		unit = 366 * 24 * time.Hour
	case rrule.MONTHLY:
		unit = 31 * 24 * time.Hour
	case rrule.WEEKLY:
		unit = 7 * 24 * time.Hour
	case rrule.DAILY:
		unit = 24 * time.Hour
	case rrule.HOURLY:
		unit = time.Hour
	case rrule.MINUTELY:
		unit = time.Minute
	default:
		unit = time.Second
	}
	return unit * time.Duration(interval)
}

// collect returns rule instances with lo <= t <= hi, in the rule's zone. A
// zero hi means no upper limit, which callers only allow for bounded rules.
// More than limit instances, or walking more than scanBudgetFactor*limit
// instances to get there, is an error.
func (c *compiledRule) collect(lo, hi time.Time, limit int) ([]time.Time, error) {
	r, err := c.from(lo)
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0)
	budget := limit * scanBudgetFactor
	next := r.Iterator()
	for scanned := 1; ; scanned++ {
		t, ok := next()
		if !ok {
			break
		}
		if scanned > budget {
			return nil, fmt.Errorf("walks more than %d instances to reach the window", budget)
		}
		if t.Before(lo) {
			continue
		}
		if !hi.IsZero() && t.After(hi) {
			break
		}
		out = append(out, t)
		if len(out) > limit {
			return nil, fmt.Errorf("expands to more than %d occurrences", limit)
		}
	}
	return out, nil
}

// from returns the rule re-anchored at the last grid point at least one step
// before lo. Rules with COUNT or BYSETPOS, and monthly or yearly rules, are
// returned unchanged: moving their anchor would change which instances they
// produce.
func (c *compiledRule) from(lo time.Time) (*rrule.RRule, error) {
	stepDays := c.gridDays()
	anchor := c.opt.Dtstart
	if stepDays == 0 || !anchor.Before(lo) {
		return c.rule, nil
	}

	elapsed := int(lo.Sub(anchor) / (24 * time.Hour))
	steps := elapsed/stepDays - 1
	for ; steps > 0; steps-- {
		moved := anchor.AddDate(0, 0, steps*stepDays)
		// A DST gap can shift the wall clock, and rrule-go takes the default
		// BYHOUR/BYMINUTE/BYSECOND from the anchor.
		if sameClock(anchor, moved) {
			opt := c.opt
			opt.Dtstart = moved
			return rrule.NewRRule(opt)
		}
	}
	return c.rule, nil
}

// gridDays is a whole number of days after which the rule's instance grid
// repeats, or 0 when the anchor must not move.
func (c *compiledRule) gridDays() int {
	if c.opt.Count > 0 || len(c.opt.Bysetpos) > 0 {
		return 0
	}
	interval := c.opt.Interval
	if interval < 1 {
		interval = 1
	}
	switch c.opt.Freq {
	case rrule.WEEKLY:
		return 7 * interval
	case rrule.DAILY, rrule.HOURLY, rrule.MINUTELY, rrule.SECONDLY:
		return interval
	default:
		return 0
	}
}

func sameClock(a, b time.Time) bool {
	ah, am, as := a.Clock()
	bh, bm, bs := b.Clock()
	return ah == bh && am == bm && as == bs
}

func (c *compiledRule) location() *time.Location {
	return c.loc
}

// isInstance reports whether t is exactly one of the rule's instances.
func (c *compiledRule) isInstance(t time.Time) bool {
	r, err := c.from(t.Add(-c.period))
	if err != nil {
		return false
	}
	next := r.After(t, true)
	return !next.IsZero() && next.Equal(t)
}

// loadLocation resolves an IANA name. Empty means "not set" and yields nil.
func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return nil, nil
	}
	return time.LoadLocation(name)
}
