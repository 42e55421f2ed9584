// Package types provides the core data types shared by the viewbench harness.
package types

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// PartitionDate is a calendar date encoded as the integer YYYYMMDD. It is the
// grouping and filtering key shared by the source table and every
// materialized view.
type PartitionDate int32

// ParsePartitionDate parses a YYYYMMDD string and validates the result.
func ParsePartitionDate(s string) (PartitionDate, error) {
	s = strings.TrimSpace(s)
	if len(s) != 8 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPartitionDate, s)
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPartitionDate, s)
	}
	d := PartitionDate(n)
	if err := d.Validate(); err != nil {
		return 0, err
	}
	return d, nil
}

// PartitionDateOf returns the partition date of t in UTC.
func PartitionDateOf(t time.Time) PartitionDate {
	t = t.UTC()
	return PartitionDate(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

// Year returns the year component.
func (d PartitionDate) Year() int { return int(d) / 10000 }

// Month returns the month component.
func (d PartitionDate) Month() time.Month { return time.Month(int(d) / 100 % 100) }

// Day returns the day-of-month component.
func (d PartitionDate) Day() int { return int(d) % 100 }

// Validate checks that the encoded value is a real calendar date.
func (d PartitionDate) Validate() error {
	y, m, day := d.Year(), d.Month(), d.Day()
	if y < 1000 || y > 9999 || m < time.January || m > time.December || day < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPartitionDate, int32(d))
	}
	// time.Date normalizes overflowing days, so a round trip catches Feb 30.
	if PartitionDateOf(d.Time()) != d {
		return fmt.Errorf("%w: %d", ErrInvalidPartitionDate, int32(d))
	}
	return nil
}

// Time returns midnight UTC of the date.
func (d PartitionDate) Time() time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date shifted by n calendar days.
func (d PartitionDate) AddDays(n int) PartitionDate {
	return PartitionDateOf(d.Time().AddDate(0, 0, n))
}

func (d PartitionDate) String() string {
	return strconv.Itoa(int(d))
}

// UniqueSortedDates returns the distinct non-zero dates in ascending order.
func UniqueSortedDates(dates ...PartitionDate) []PartitionDate {
	seen := make(map[PartitionDate]struct{}, len(dates))
	out := make([]PartitionDate, 0, len(dates))
	for _, d := range dates {
		if d == 0 {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}
