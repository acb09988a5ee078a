package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html"
	"html/template"
	"io/fs"
	"os"
	"strings"

	"maginkcal/internal/model"
)

// ErrTemplateNotFound is returned when a configured template file is absent.
var ErrTemplateNotFound = errors.New("render: template not found")

//go:embed templates/calendar.html
var embeddedTemplates embed.FS

const defaultTemplateName = "templates/calendar.html"

// LoadTemplate parses the document template at path, or the built-in one
// when path is empty.
//
// The template receives MonthYear, WeekdayDay, WeekDayHeaders, BatteryText,
// LastRefresh, Legend and Cells.
func LoadTemplate(path string) (*template.Template, error) {
	if path == "" {
		return template.ParseFS(embeddedTemplates, defaultTemplateName)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, path)
		}
		return nil, fmt.Errorf("render: read template: %w", err)
	}
	t, err := template.New("calendar").Parse(string(b))
	if err != nil {
		return nil, fmt.Errorf("render: parse template %s: %w", path, err)
	}
	return t, nil
}

type documentData struct {
	MonthYear      string
	WeekdayDay     string
	WeekDayHeaders template.HTML
	BatteryText    string
	LastRefresh    string
	Legend         template.HTML
	Cells          template.HTML
}

// Document assembles the calendar page for cals. cfg must be valid.
func Document(tmpl *template.Template, cals model.Calendars, cfg Config) (string, error) {
	grid := BuildGrid(cals, cfg.Today, cfg.WeekStart)

	data := documentData{
		MonthYear:      cfg.Today.Format("January 2006"),
		WeekdayDay:     fmt.Sprintf("%s, %d%s", cfg.Today.Format("Monday"), cfg.Today.Day(), OrdinalSuffix(cfg.Today.Day())),
		WeekDayHeaders: weekDayHeaders(cfg),
		BatteryText:    BatteryText(cfg.BatteryMode, cfg.BatteryPercent, cfg.BatteryLowPercent),
		LastRefresh:    lastRefreshText(cfg),
		Legend:         legend(cals),
		Cells:          cellsMarkup(grid, cfg),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render: execute template: %w", err)
	}
	return buf.String(), nil
}

// BatteryText is the battery indicator, or "" when mode hides it.
func BatteryText(mode BatteryMode, percent, lowPercent int) string {
	switch mode {
	case BatteryAlways:
		return fmt.Sprintf("%d%%", percent)
	case BatteryWhenLow:
		if percent <= lowPercent {
			return fmt.Sprintf("%d%%", percent)
		}
	}
	return ""
}

func lastRefreshText(cfg Config) string {
	layout := "Jan 2 3:04pm"
	if cfg.Is24Hour {
		layout = "Jan 2 15:04"
	}
	return cfg.LastRefresh.Format(layout)
}

func weekDayHeaders(cfg Config) template.HTML {
	var b strings.Builder
	for i := 0; i < 7; i++ {
		label := cfg.DayOfWeekText[(int(cfg.WeekStart)+i)%7]
		fmt.Fprintf(&b, "<div>%s</div>\n", html.EscapeString(label))
	}
	return template.HTML(b.String())
}

func legend(cals model.Calendars) template.HTML {
	var b strings.Builder
	for _, c := range cals {
		fmt.Fprintf(&b, "<div class=\"flex items-center\"><span class=\"mr-1\">%s</span>%s</div>\n",
			html.EscapeString(c.Icon), html.EscapeString(c.Name))
	}
	return template.HTML(b.String())
}

func cellsMarkup(grid Grid, cfg Config) template.HTML {
	var b strings.Builder
	for _, cell := range grid.Cells {
		writeCell(&b, cell, cfg)
		b.WriteByte('\n')
	}
	return template.HTML(b.String())
}

func writeCell(b *strings.Builder, cell Cell, cfg Config) {
	class := "p-1 border border-gray-200 overflow-hidden"
	if cell.OutsideMonth {
		class += " text-einkGray"
	}
	fmt.Fprintf(b, "<div class=\"%s\" data-date=\"%s\">", class, cell.Date.Format("2006-01-02"))

	if cell.Today {
		fmt.Fprintf(b, "<div class=\"flex justify-between items-center mb-1\"><div class=\"w-6 h-6 text-center leading-6 rounded-full font-bold text-white bg-einkRed\">%d</div></div>", cell.Date.Day())
	} else {
		fmt.Fprintf(b, "<div class=\"mb-1 font-bold\">%d</div>", cell.Date.Day())
	}

	for _, ev := range cell.Visible(cfg.MaxEventsPerDay) {
		evClass := "event whitespace-nowrap overflow-hidden text-ellipsis"
		if highlighted(ev, cfg.HighlightRed) {
			evClass += " text-einkRed"
		}
		fmt.Fprintf(b, "<div class=\"%s\">%s</div>", evClass, html.EscapeString(Label(ev, cfg.Is24Hour)))
	}

	if n := cell.Overflow(cfg.MaxEventsPerDay); n > 0 {
		fmt.Fprintf(b, "<div class=\"more text-einkGray text-xs\">%d more</div>", n)
	}
	b.WriteString("</div>")
}

// highlighted marks recently updated events and events whose summary
// contains one of the keywords.
func highlighted(ev model.Event, keywords []string) bool {
	if ev.IsUpdated {
		return true
	}
	summary := strings.ToLower(ev.Summary)
	for _, k := range keywords {
		if k != "" && strings.Contains(summary, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
