package booking

import (
	"time"
)

// Interval is an occupied [Start, End) range.
type Interval struct {
	Start time.Time
	End   time.Time
}

type TimePoint struct {
	Time      string    `json:"time"`
	StartsAt  time.Time `json:"startsAt"`
	Available bool      `json:"available"`
}

// DayBounds returns the UTC instants of local midnight for date and the following day.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// TimePoints lists the SlotStep points of the venue day. A point is unavailable
// when it has already started or when its step overlaps an occupied interval.
func TimePoints(date time.Time, hours Hours, loc *time.Location, occupied []Interval, now time.Time) []TimePoint {
	midnight, _ := DayBounds(date, loc)
	step := int(SlotStep / time.Minute)
	points := make([]TimePoint, 0, (hours.Close-hours.Open)/step)
	for m := hours.Open; m+step <= hours.Close; m += step {
		at := midnight.Add(time.Duration(m) * time.Minute)
		available := !at.Before(now)
		if available {
			for _, iv := range occupied {
				if Overlaps(at, at.Add(SlotStep), iv.Start, iv.End) {
					available = false
					break
				}
			}
		}
		points = append(points, TimePoint{
			Time:      FormatClock(m),
			StartsAt:  at.UTC(),
			Available: available,
		})
	}
	return points
}
