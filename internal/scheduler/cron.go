// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package scheduler

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CronExpression is a parsed cron expression.
// Standard 5-field format (minute hour day-of-month month day-of-week),
// optionally preceded by a seconds field.
type CronExpression struct {
	Seconds     []int // 0-59
	Minutes     []int // 0-59
	Hours       []int // 0-23
	DaysOfMonth []int // 1-31
	Months      []int // 1-12
	DaysOfWeek  []int // 0-6 (0 = Sunday)
}

// ParseCron parses a cron expression with five fields
// (minute hour day-of-month month day-of-week) or six (a leading
// seconds field). Five-field expressions fire at second zero.
//
// Supported syntax per field:
//   - * (any value)
//   - n (specific value)
//   - n-m (range)
//   - n,m,o (list)
//   - */s and n-m/s (steps)
//
// Examples:
//   - "0 4 * * *" - daily at 04:00
//   - "30 2 * * 1" - Mondays at 02:30
//   - "*/10 * * * * *" - every ten seconds
func ParseCron(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	secondsField := "0"
	switch len(fields) {
	case 5:
	case 6:
		secondsField = fields[0]
		fields = fields[1:]
	default:
		return nil, fmt.Errorf("cron expression must have 5 or 6 fields, got %d", len(fields))
	}

	seconds, err := parseField(secondsField, 0, 59)
	if err != nil {
		return nil, fmt.Errorf("invalid seconds field: %w", err)
	}
	minutes, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}
	hours, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}
	daysOfMonth, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-month field: %w", err)
	}
	months, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}
	daysOfWeek, err := parseField(fields[4], 0, 7)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}

	// Both 0 and 7 mean Sunday.
	for i, d := range daysOfWeek {
		if d == 7 {
			daysOfWeek[i] = 0
		}
	}
	daysOfWeek = uniqueSorted(daysOfWeek)

	return &CronExpression{
		Seconds:     seconds,
		Minutes:     minutes,
		Hours:       hours,
		DaysOfMonth: daysOfMonth,
		Months:      months,
		DaysOfWeek:  daysOfWeek,
	}, nil
}

// NextRun returns the first time strictly after the given one that matches
// the expression. If loc is nil, UTC is used.
func (c *CronExpression) NextRun(after time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := after.In(loc).Add(time.Second)
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)

	// The first candidate can land mid-minute, so the seconds field is
	// scanned from the current second before minute stepping begins.
	if c.matchesMinute(t) {
		for _, s := range c.Seconds {
			if s >= t.Second() {
				return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), s, 0, loc)
			}
		}
	}

	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc).Add(time.Minute)

	// Bounded search, four years of minutes.
	maxIterations := 4 * 365 * 24 * 60
	for i := 0; i < maxIterations; i++ {
		if c.matchesMinute(t) {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), c.Seconds[0], 0, loc)
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

// matchesMinute reports whether the minute containing t satisfies every
// field except seconds.
func (c *CronExpression) matchesMinute(t time.Time) bool {
	if !slices.Contains(c.Minutes, t.Minute()) {
		return false
	}
	if !slices.Contains(c.Hours, t.Hour()) {
		return false
	}
	if !slices.Contains(c.Months, int(t.Month())) {
		return false
	}

	domMatch := slices.Contains(c.DaysOfMonth, t.Day())
	dowMatch := slices.Contains(c.DaysOfWeek, int(t.Weekday()))
	domWildcard := len(c.DaysOfMonth) == 31
	dowWildcard := len(c.DaysOfWeek) == 7

	// Standard cron: when both day fields are restricted, either may match.
	switch {
	case domWildcard && dowWildcard:
		return true
	case domWildcard:
		return dowMatch
	case dowWildcard:
		return domMatch
	default:
		return domMatch || dowMatch
	}
}

// parseField expands one cron field into the sorted set of values it covers.
func parseField(field string, minVal, maxVal int) ([]int, error) {
	if field == "*" {
		return rangeInts(minVal, maxVal), nil
	}

	var result []int
	for _, part := range strings.Split(field, ",") {
		values, err := parseFieldPart(part, minVal, maxVal)
		if err != nil {
			return nil, err
		}
		result = append(result, values...)
	}
	return uniqueSorted(result), nil
}

func parseFieldPart(part string, minVal, maxVal int) ([]int, error) {
	// Step forms: */s, n/s, n-m/s.
	if base, stepStr, ok := strings.Cut(part, "/"); ok {
		step, err := strconv.Atoi(stepStr)
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("invalid step value: %s", stepStr)
		}

		start, end := minVal, maxVal
		if base != "*" {
			if from, to, isRange := strings.Cut(base, "-"); isRange {
				start, err = strconv.Atoi(from)
				if err != nil {
					return nil, fmt.Errorf("invalid range start: %s", from)
				}
				end, err = strconv.Atoi(to)
				if err != nil {
					return nil, fmt.Errorf("invalid range end: %s", to)
				}
			} else {
				start, err = strconv.Atoi(base)
				if err != nil {
					return nil, fmt.Errorf("invalid value: %s", base)
				}
			}
		}

		var result []int
		for v := start; v <= end; v += step {
			if v >= minVal && v <= maxVal {
				result = append(result, v)
			}
		}
		return result, nil
	}

	if from, to, ok := strings.Cut(part, "-"); ok {
		start, err := strconv.Atoi(from)
		if err != nil {
			return nil, fmt.Errorf("invalid range start: %s", from)
		}
		end, err := strconv.Atoi(to)
		if err != nil {
			return nil, fmt.Errorf("invalid range end: %s", to)
		}
		if start > end || start < minVal || end > maxVal {
			return nil, fmt.Errorf("range %d-%d outside %d-%d", start, end, minVal, maxVal)
		}
		return rangeInts(start, end), nil
	}

	val, err := strconv.Atoi(part)
	if err != nil {
		return nil, fmt.Errorf("invalid value: %s", part)
	}
	if val < minVal || val > maxVal {
		return nil, fmt.Errorf("value %d outside %d-%d", val, minVal, maxVal)
	}
	return []int{val}, nil
}

// rangeInts returns start..end inclusive.
func rangeInts(start, end int) []int {
	result := make([]int, end-start+1)
	for i := range result {
		result[i] = start + i
	}
	return result
}

func uniqueSorted(values []int) []int {
	slices.Sort(values)
	return slices.Compact(values)
}

// CalculateNextRun parses expr and returns the first fire time after the
// given one. An empty timezone means UTC.
func CalculateNextRun(expr string, after time.Time, timezone string) (time.Time, error) {
	cron, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}

	var loc *time.Location
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}

	return cron.NextRun(after, loc), nil
}
