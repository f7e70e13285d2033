package sync

import (
	"sort"
	"time"

	"github.com/matheus3301/securetalk/internal/model"
)

// Group orders messages by creation time and inserts a date separator
// before the first message of each day. Days are calendar days in loc.
func Group(msgs []model.Message, now time.Time, loc *time.Location) []model.Entry {
	if len(msgs) == 0 {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	sorted := append([]model.Message(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	out := make([]model.Entry, 0, len(sorted)+4)
	last := ""
	for i := range sorted {
		m := &sorted[i]
		label := dayLabel(m.CreatedAt, now, loc)
		if label != last {
			out = append(out, model.Entry{
				Kind:  model.EntryDate,
				ID:    "date-separator-" + m.Ref.String(),
				Label: label,
			})
			last = label
		}
		out = append(out, model.Entry{Kind: model.EntryMessage, ID: m.Ref.String(), Message: m})
	}
	return out
}

func dayLabel(at, now time.Time, loc *time.Location) string {
	at = at.In(loc)
	days := calendarDays(now.In(loc)) - calendarDays(at)
	switch {
	case days == 0:
		return "Today"
	case days == 1:
		return "Yesterday"
	case days > 1 && days < 7:
		return at.Weekday().String()
	default:
		return at.Format("January 2, 2006")
	}
}

// calendarDays counts days since the epoch for the date of t, ignoring the
// clock and any DST shift.
func calendarDays(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}
