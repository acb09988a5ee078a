package render

import (
	"fmt"
	"strings"
	"time"

	"maginkcal/internal/model"
)

// ShortTime formats a start time for a cell label: "09:30" in 24-hour mode,
// otherwise "9am", "1.30pm", "12am" (midnight) or "12pm" (noon).
func ShortTime(t time.Time, is24Hour bool) string {
	if is24Hour {
		return t.Format("15:04")
	}

	minutes := ""
	if t.Minute() > 0 {
		minutes = fmt.Sprintf(".%02d", t.Minute())
	}

	h := t.Hour()
	suffix := "am"
	if h >= 12 {
		suffix = "pm"
	}
	h %= 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d%s%s", h, minutes, suffix)
}

// OrdinalSuffix returns "st", "nd", "rd" or "th" for a day number.
func OrdinalSuffix(n int) string {
	if m := n % 100; m >= 11 && m <= 13 {
		return "th"
	}
	switch n % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

// Label is the text of one event line: "icon summary" for all-day events,
// "icon time summary" otherwise.
func Label(ev model.Event, is24Hour bool) string {
	parts := make([]string, 0, 3)
	if ev.Icon != "" {
		parts = append(parts, ev.Icon)
	}
	if !ev.AllDay {
		parts = append(parts, ShortTime(ev.Start, is24Hour))
	}
	if ev.Summary != "" {
		parts = append(parts, ev.Summary)
	}
	return strings.Join(parts, " ")
}
