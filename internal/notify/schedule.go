package notify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type SpecKind int

const (
	SpecInterval SpecKind = iota
	SpecCron
)

// ParsedSpec is a normalized schedule: either a repeat interval or a cron
// expression.
type ParsedSpec struct {
	Kind  SpecKind
	Every time.Duration
	Cron  string
}

// CronSpec renders the spec in robfig/cron syntax.
func (p ParsedSpec) CronSpec() string {
	if p.Kind == SpecInterval {
		return "@every " + p.Every.String()
	}
	return p.Cron
}

var reHHMM = regexp.MustCompile(`^\d{1,2}:\d{2}$`)

// ParseSchedule accepts a cron expression ("0 9 * * *", "@daily"), a daily
// HH:MM time, or a Go duration ("55m").
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	// Whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s}, nil
	}

	// HH:MM means daily at that wall time.
	if reHHMM.MatchString(s) {
		hh, mm, _ := strings.Cut(s, ":")
		h, err := strconv.Atoi(hh)
		if err != nil || h < 0 || h > 23 {
			return ParsedSpec{}, fmt.Errorf("invalid hour in %q", raw)
		}
		m, err := strconv.Atoi(mm)
		if err != nil || m < 0 || m > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid minute in %q", raw)
		}
		return ParsedSpec{Kind: SpecCron, Cron: fmt.Sprintf("%d %d * * *", m, h)}, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d}, nil
	}

	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')", raw)
}
