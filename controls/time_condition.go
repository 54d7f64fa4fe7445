package controls

import (
	"fmt"

	"github.com/flowworksio/hydronet-simulator/timectrl"
)

const secondsPerDay = 86400

// SimTimeCondition compares elapsed simulation time against a
// threshold. The = relation fires only on the crossing instant (or the
// first check after it, with a backtrack hint pointing at the exact
// instant); > and < fire and stay fired. An optional repeat period
// re-arms an = condition modulo the period, anchored at the first
// occurrence.
type SimTimeCondition struct {
	clock     timectrl.SimClock
	relation  Relation
	threshold int64
	repeat    int64
	first     int64

	// prevTime is the simulation time of the last accepted check.
	// -1 means "before the start of time" so a threshold of 0 can
	// fire on the very first check.
	prevTime int64
}

func NewSimTimeCondition(clock timectrl.SimClock, relation Relation, threshold, repeat int64) (*SimTimeCondition, error) {
	if clock == nil {
		return nil, fmt.Errorf("%w: nil clock", ErrBadControl)
	}
	if !relation.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrBadRelation, relation)
	}
	if threshold < 0 {
		return nil, fmt.Errorf("%w: negative time threshold %d", ErrBadControl, threshold)
	}
	if repeat < 0 {
		return nil, fmt.Errorf("%w: negative repeat period %d", ErrBadControl, repeat)
	}
	if repeat > 0 && relation != RelationEQ {
		return nil, fmt.Errorf("%w: repeat is only meaningful for the = relation", ErrBadControl)
	}
	return &SimTimeCondition{
		clock:     clock,
		relation:  relation,
		threshold: threshold,
		repeat:    repeat,
		first:     threshold,
		prevTime:  -1,
	}, nil
}

// occurrence returns the crossing instant in (prev, now], or -1 when
// none exists in that window.
func (c *SimTimeCondition) occurrence(prev, now int64) int64 {
	if c.repeat == 0 {
		if prev < c.threshold && c.threshold <= now {
			return c.threshold
		}
		return -1
	}
	// First occurrence at c.first, then every c.repeat seconds.
	t := c.first
	if prev >= t {
		k := (prev-t)/c.repeat + 1
		t += k * c.repeat
	}
	if t <= now {
		return t
	}
	return -1
}

func (c *SimTimeCondition) Evaluate() (bool, error) {
	now := c.clock.Now()
	switch c.relation {
	case RelationEQ:
		return c.occurrence(c.prevTime, now) >= 0, nil
	default:
		return c.relation.Compare(float64(now), float64(c.threshold)), nil
	}
}

// Backtrack: only the = relation wants to land exactly on the event;
// > and < stay fired going forward and never request a shrink.
func (c *SimTimeCondition) Backtrack() (float64, bool) {
	if c.relation != RelationEQ {
		return 0, false
	}
	now := c.clock.Now()
	occ := c.occurrence(c.prevTime, now)
	if occ < 0 {
		return 0, false
	}
	return -float64(now - occ), true
}

func (c *SimTimeCondition) AcceptStep() error {
	c.prevTime = c.clock.Now()
	return nil
}

func (c *SimTimeCondition) RequiredObjects() []ObjectRef { return nil }

func (c *SimTimeCondition) String() string {
	if c.repeat > 0 {
		return fmt.Sprintf("sim time %s %d repeat %d", c.relation, c.threshold, c.repeat)
	}
	return fmt.Sprintf("sim time %s %d", c.relation, c.threshold)
}

// TimeOfDayCondition is the wall-clock sibling of SimTimeCondition:
// the threshold is seconds since midnight and comparisons wrap modulo
// 24 h. FirstDay gates the condition until a given calendar day of the
// run.
type TimeOfDayCondition struct {
	clock     timectrl.SimClock
	relation  Relation
	threshold int64 // seconds since midnight
	firstDay  int

	prevTime int64
}

func NewTimeOfDayCondition(clock timectrl.SimClock, relation Relation, threshold int64, firstDay int) (*TimeOfDayCondition, error) {
	if clock == nil {
		return nil, fmt.Errorf("%w: nil clock", ErrBadControl)
	}
	if !relation.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrBadRelation, relation)
	}
	if threshold < 0 || threshold >= secondsPerDay {
		return nil, fmt.Errorf("%w: time of day %d outside [0, 86400)", ErrBadControl, threshold)
	}
	if firstDay < 0 {
		return nil, fmt.Errorf("%w: negative first day %d", ErrBadControl, firstDay)
	}
	return &TimeOfDayCondition{
		clock:     clock,
		relation:  relation,
		threshold: threshold,
		firstDay:  firstDay,
		prevTime:  -1,
	}, nil
}

// startClock recovers the clock time at simulation start from the
// current pair (Now, ClockTime), so occurrences can be mapped onto the
// elapsed-time axis.
func (c *TimeOfDayCondition) startClock() int64 {
	now := c.clock.Now()
	cur := c.clock.ClockTime()
	s := (cur - now%secondsPerDay + secondsPerDay) % secondsPerDay
	return s
}

// occurrence returns the elapsed-time instant in (prev, now] at which
// the clock reads the threshold, respecting the first-day gate, or -1.
func (c *TimeOfDayCondition) occurrence(prev, now int64) int64 {
	start := c.startClock()
	base := ((c.threshold-start)%secondsPerDay + secondsPerDay) % secondsPerDay
	t := base
	if prev >= t {
		k := (prev-t)/secondsPerDay + 1
		t += k * secondsPerDay
	}
	for ; t <= now; t += secondsPerDay {
		if int((start+t)/secondsPerDay) >= c.firstDay {
			return t
		}
	}
	return -1
}

func (c *TimeOfDayCondition) Evaluate() (bool, error) {
	if c.clock.Day() < c.firstDay {
		return false, nil
	}
	switch c.relation {
	case RelationEQ:
		return c.occurrence(c.prevTime, c.clock.Now()) >= 0, nil
	default:
		return c.relation.Compare(float64(c.clock.ClockTime()), float64(c.threshold)), nil
	}
}

func (c *TimeOfDayCondition) Backtrack() (float64, bool) {
	if c.relation != RelationEQ {
		return 0, false
	}
	now := c.clock.Now()
	occ := c.occurrence(c.prevTime, now)
	if occ < 0 {
		return 0, false
	}
	return -float64(now - occ), true
}

func (c *TimeOfDayCondition) AcceptStep() error {
	c.prevTime = c.clock.Now()
	return nil
}

func (c *TimeOfDayCondition) RequiredObjects() []ObjectRef { return nil }

func (c *TimeOfDayCondition) String() string {
	return fmt.Sprintf("clock time %s %02d:%02d", c.relation, c.threshold/3600, c.threshold%3600/60)
}
