// Package rulelang parses the one-line operational rule format used in
// scenario files:
//
//	LINK <id> OPEN|CLOSED|<setting> IF NODE <id> ABOVE|BELOW <value> [PRIORITY <n>]
//	LINK <id> OPEN|CLOSED|<setting> AT TIME <seconds|h:mm> [REPEAT <seconds|h:mm>]
//	LINK <id> OPEN|CLOSED|<setting> AT CLOCKTIME <h:mm> [AM|PM]
//
// Blank lines and lines starting with ';' or '#' are ignored.
package rulelang

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/flowworksio/hydronet-simulator/controls"
	"github.com/flowworksio/hydronet-simulator/core"
	"github.com/flowworksio/hydronet-simulator/timectrl"
)

// ErrSyntax marks an unparseable rule line. Errors wrap it with the
// offending line number.
var ErrSyntax = errors.New("rule syntax error")

// Parser builds controls against a fixed network and clock.
type Parser struct {
	wn    *core.WaterNetwork
	clock timectrl.SimClock
}

func NewParser(wn *core.WaterNetwork, clock timectrl.SimClock) (*Parser, error) {
	if wn == nil {
		return nil, fmt.Errorf("%w: nil network", controls.ErrBadControl)
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: nil clock", controls.ErrBadControl)
	}
	return &Parser{wn: wn, clock: clock}, nil
}

// LoadControls parses every rule line in r. The first bad line aborts
// the load; partially applied rule files are worse than rejected ones.
func (p *Parser) LoadControls(r io.Reader) ([]*controls.Control, error) {
	var out []*controls.Control
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		c, err := p.ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseLine parses a single rule into a control. Rule names are
// generated, so identical rules never collide in the engine registry.
func (p *Parser) ParseLine(line string) (*controls.Control, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return nil, fmt.Errorf("%w: too few tokens in %q", ErrSyntax, line)
	}
	if !strings.EqualFold(fields[0], "LINK") {
		return nil, fmt.Errorf("%w: rule must start with LINK, got %q", ErrSyntax, fields[0])
	}

	linkID := fields[1]
	action, opensLink, err := p.parseAction(linkID, fields[2])
	if err != nil {
		return nil, err
	}

	rest := fields[3:]
	var (
		cond     controls.Condition
		priority controls.Priority
		priSet   bool
	)
	switch strings.ToUpper(rest[0]) {
	case "IF":
		cond, priority, priSet, err = p.parseNodeClause(rest[1:])
	case "AT":
		cond, err = p.parseTimeClause(rest[1:])
	default:
		return nil, fmt.Errorf("%w: expected IF or AT, got %q", ErrSyntax, rest[0])
	}
	if err != nil {
		return nil, err
	}

	if !priSet {
		// Opens run before all consistency enforcement, closes after.
		if opensLink {
			priority = controls.PriorityVeryLow
		} else {
			priority = controls.PriorityMedium
		}
	}

	name := "rule/" + linkID + "/" + uuid.NewString()
	return controls.NewControl(name, cond, []controls.Action{action}, nil, priority)
}

// parseAction interprets the third token: a status keyword or a
// numeric valve setting.
func (p *Parser) parseAction(linkID, token string) (controls.Action, bool, error) {
	switch strings.ToUpper(token) {
	case "OPEN":
		a, err := controls.NewLinkStatusAction(p.wn, linkID, core.StatusOpen)
		return a, true, err
	case "CLOSED", "CLOSE":
		a, err := controls.NewLinkStatusAction(p.wn, linkID, core.StatusClosed)
		return a, false, err
	}
	setting, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %q is neither a status nor a setting", ErrSyntax, token)
	}
	a, err := controls.NewSetAttributeAction(p.wn, controls.LinkRef(linkID), core.AttrSetting, setting)
	// Changing a setting leaves the link passing flow; treat it like an
	// open for priority purposes.
	return a, true, err
}

// parseNodeClause handles "NODE <id> ABOVE|BELOW <value> [PRIORITY n]".
func (p *Parser) parseNodeClause(fields []string) (controls.Condition, controls.Priority, bool, error) {
	if len(fields) < 4 {
		return nil, 0, false, fmt.Errorf("%w: incomplete node clause", ErrSyntax)
	}
	if !strings.EqualFold(fields[0], "NODE") {
		return nil, 0, false, fmt.Errorf("%w: expected NODE, got %q", ErrSyntax, fields[0])
	}
	nodeID := fields[1]
	relation, err := controls.ParseRelation(fields[2])
	if err != nil {
		return nil, 0, false, err
	}
	value, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: bad threshold %q", ErrSyntax, fields[3])
	}

	priority := controls.Priority(0)
	priSet := false
	if len(fields) > 4 {
		if !strings.EqualFold(fields[4], "PRIORITY") || len(fields) < 6 {
			return nil, 0, false, fmt.Errorf("%w: trailing tokens %v", ErrSyntax, fields[4:])
		}
		n, err := strconv.Atoi(fields[5])
		if err != nil || !controls.Priority(n).Valid() {
			return nil, 0, false, fmt.Errorf("%w: bad priority %q", ErrSyntax, fields[5])
		}
		priority = controls.Priority(n)
		priSet = true
	}

	// Thresholds are levels for tanks and pressures for everything
	// else, matching how operators state these rules.
	node, err := p.wn.GetNode(nodeID)
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: %v", controls.ErrBadControl, err)
	}
	var cond controls.Condition
	if node.Type == core.NodeTank {
		cond, err = controls.NewTankLevelCondition(p.wn, nodeID, core.AttrLevel, relation, value)
	} else {
		cond, err = controls.NewValueCondition(p.wn, controls.NodeRef(nodeID), core.AttrPressure, relation, value)
	}
	if err != nil {
		return nil, 0, false, err
	}
	return cond, priority, priSet, nil
}

// parseTimeClause handles "TIME <t> [REPEAT <t>]" and
// "CLOCKTIME <h:mm> [AM|PM]".
func (p *Parser) parseTimeClause(fields []string) (controls.Condition, error) {
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: incomplete time clause", ErrSyntax)
	}
	switch strings.ToUpper(fields[0]) {
	case "TIME":
		threshold, err := parseDuration(fields[1])
		if err != nil {
			return nil, err
		}
		var repeat int64
		if len(fields) > 2 {
			if !strings.EqualFold(fields[2], "REPEAT") || len(fields) < 4 {
				return nil, fmt.Errorf("%w: trailing tokens %v", ErrSyntax, fields[2:])
			}
			repeat, err = parseDuration(fields[3])
			if err != nil {
				return nil, err
			}
		}
		return controls.NewSimTimeCondition(p.clock, controls.RelationEQ, threshold, repeat)
	case "CLOCKTIME":
		threshold, err := parseClockTime(fields[1:])
		if err != nil {
			return nil, err
		}
		return controls.NewTimeOfDayCondition(p.clock, controls.RelationEQ, threshold, 0)
	default:
		return nil, fmt.Errorf("%w: expected TIME or CLOCKTIME, got %q", ErrSyntax, fields[0])
	}
}

// parseDuration accepts plain seconds or h:mm[:ss].
func parseDuration(s string) (int64, error) {
	if !strings.Contains(s, ":") {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%w: bad duration %q", ErrSyntax, s)
		}
		return v, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: bad duration %q", ErrSyntax, s)
	}
	var total int64
	for _, part := range parts {
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%w: bad duration %q", ErrSyntax, s)
		}
		total = total*60 + v
	}
	// h:mm yields minutes; normalise to seconds.
	for i := len(parts); i < 3; i++ {
		total *= 60
	}
	return total, nil
}

// parseClockTime accepts "h:mm" with an optional AM/PM suffix token.
func parseClockTime(fields []string) (int64, error) {
	parts := strings.Split(fields[0], ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: bad clock time %q", ErrSyntax, fields[0])
	}
	hour, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: bad hour %q", ErrSyntax, parts[0])
	}
	minute, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: bad minute %q", ErrSyntax, parts[1])
	}

	if len(fields) > 1 {
		switch strings.ToUpper(fields[1]) {
		case "AM":
			if hour > 12 {
				return 0, fmt.Errorf("%w: hour %d with AM", ErrSyntax, hour)
			}
			if hour == 12 {
				hour = 0
			}
		case "PM":
			if hour > 12 {
				return 0, fmt.Errorf("%w: hour %d with PM", ErrSyntax, hour)
			}
			if hour != 12 {
				hour += 12
			}
		default:
			return 0, fmt.Errorf("%w: trailing token %q", ErrSyntax, fields[1])
		}
	}
	return hour*3600 + minute*60, nil
}
