package booking

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidInterval   = errors.New("start time must be before end time")
	ErrSlotInPast        = errors.New("slot starts in the past")
	ErrOutsideVenueHours = errors.New("slot is outside venue opening hours")
	ErrInvalidClock      = errors.New("invalid time of day")
)

// SlotStep is the granularity of availability listings.
const SlotStep = 30 * time.Minute

const minutesPerDay = 24 * 60

// DefaultHours applies to venues that do not publish their own opening hours.
var DefaultHours = Hours{Open: 8 * 60, Close: 23 * 60}

// Hours is a daily opening window in minutes since local midnight, Close exclusive.
type Hours struct {
	Open  int
	Close int
}

// ParseHours reads a venue's "HH:MM" pair. Two empty values yield DefaultHours.
func ParseHours(openAt, closeAt string) (Hours, error) {
	openAt = strings.TrimSpace(openAt)
	closeAt = strings.TrimSpace(closeAt)
	if openAt == "" && closeAt == "" {
		return DefaultHours, nil
	}
	if openAt == "" || closeAt == "" {
		return Hours{}, fmt.Errorf("%w: both opening and closing time are required", ErrInvalidClock)
	}
	o, err := ParseClock(openAt)
	if err != nil {
		return Hours{}, err
	}
	c, err := ParseClock(closeAt)
	if err != nil {
		return Hours{}, err
	}
	if o >= c {
		return Hours{}, fmt.Errorf("%w: opening time must be before closing time", ErrInvalidClock)
	}
	return Hours{Open: o, Close: c}, nil
}

// ParseClock converts "HH:MM" (00:00 through 24:00) to minutes since midnight.
func ParseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, value)
	}
	return h*60 + m, nil
}

// FormatClock is the inverse of ParseClock.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ValidateInterval rejects empty and inverted intervals.
func ValidateInterval(start, end time.Time) error {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return ErrInvalidInterval
	}
	return nil
}

// Overlaps reports whether half-open intervals [aStart, aEnd) and [bStart, bEnd) intersect.
// Touching intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// ValidateSlot checks a candidate booking against the clock and the venue's
// opening hours in loc. The slot must fit inside a single local day.
func ValidateSlot(start, end, now time.Time, hours Hours, loc *time.Location) error {
	if err := ValidateInterval(start, end); err != nil {
		return err
	}
	if start.Before(now) {
		return ErrSlotInPast
	}
	if loc == nil {
		loc = time.UTC
	}
	local := start.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	startMin := int(local.Sub(midnight) / time.Minute)
	endMin := int(end.Sub(midnight) / time.Minute)
	if endMin > minutesPerDay {
		return ErrOutsideVenueHours
	}
	if startMin < hours.Open || endMin > hours.Close {
		return ErrOutsideVenueHours
	}
	return nil
}

// Amount prices a slot at pricePerHour, pro rata, rounded to 2 decimal places.
func Amount(pricePerHour decimal.Decimal, start, end time.Time) decimal.Decimal {
	minutes := decimal.NewFromInt(int64(end.Sub(start) / time.Minute))
	return pricePerHour.Mul(minutes).Div(decimal.NewFromInt(60)).Round(2)
}
