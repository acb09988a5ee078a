// Package render lays calendar events out as a month grid, turns the grid
// into an HTML page, has a rendering surface snapshot it and splits the
// snapshot into black and red images for a bichromatic e-ink panel.
package render

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"image"
	"os"
	"path/filepath"
	"time"

	"maginkcal/internal/convert"
	appLog "maginkcal/internal/log"
	"maginkcal/internal/model"
)

// BatteryMode controls when the battery level is shown.
type BatteryMode string

const (
	BatteryNever   BatteryMode = "never"
	BatteryAlways  BatteryMode = "always"
	BatteryWhenLow BatteryMode = "low"
)

// Config holds everything a render needs. There are no defaults: Validate
// rejects a zero value.
type Config struct {
	// Today is the reference date; its month is the one displayed.
	Today       time.Time
	LastRefresh time.Time

	BatteryPercent    int
	BatteryMode       BatteryMode
	BatteryLowPercent int

	MaxEventsPerDay int
	// DayOfWeekText holds the column labels, Sunday first.
	DayOfWeekText [7]string
	WeekStart     time.Weekday
	Is24Hour      bool

	Width       int
	Height      int
	RotateAngle float64

	// HighlightRed lists keywords whose events are drawn in red.
	HighlightRed []string
}

// Validate checks the configuration before any rendering work starts.
func (c Config) Validate() error {
	var errs []error
	if c.Today.IsZero() {
		errs = append(errs, errors.New("today is not set"))
	}
	if c.LastRefresh.IsZero() {
		errs = append(errs, errors.New("last refresh is not set"))
	}
	if c.MaxEventsPerDay < 1 {
		errs = append(errs, fmt.Errorf("max events per day must be >= 1, got %d", c.MaxEventsPerDay))
	}
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("raster size must be positive, got %dx%d", c.Width, c.Height))
	}
	if c.WeekStart < time.Sunday || c.WeekStart > time.Saturday {
		errs = append(errs, fmt.Errorf("invalid week start %d", c.WeekStart))
	}
	if c.BatteryPercent < 0 || c.BatteryPercent > 100 {
		errs = append(errs, fmt.Errorf("battery percent out of range: %d", c.BatteryPercent))
	}
	switch c.BatteryMode {
	case BatteryNever, BatteryAlways, BatteryWhenLow:
	default:
		errs = append(errs, fmt.Errorf("unknown battery mode %q", c.BatteryMode))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("render: invalid config: %w", err)
	}
	return nil
}

// Surface is a headless document renderer: it loads the document at url in
// a viewport whose content area is exactly width x height and returns a
// snapshot of it.
type Surface interface {
	Snapshot(ctx context.Context, url string, width, height int) (image.Image, error)
}

// Result carries the intermediate and final artifacts of one render.
type Result struct {
	Document     string
	DocumentPath string
	Snapshot     image.Image
	Black        *image.NRGBA
	Red          *image.NRGBA
}

// Renderer turns calendars into black/red rasters.
type Renderer struct {
	Surface  Surface
	Template *template.Template
	// WorkDir receives the intermediate calendar.html the surface loads.
	WorkDir string
}

const documentFile = "calendar.html"

// Render assembles the document, captures it and separates the colors. Any
// failure aborts the render; no partial images are returned.
func (r *Renderer) Render(ctx context.Context, cals model.Calendars, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if r.Surface == nil {
		return nil, errors.New("render: no rendering surface")
	}
	if r.Template == nil {
		return nil, errors.New("render: no template")
	}

	doc, err := Document(r.Template, cals, cfg)
	if err != nil {
		return nil, err
	}

	docPath, err := filepath.Abs(filepath.Join(r.WorkDir, documentFile))
	if err != nil {
		return nil, fmt.Errorf("render: resolve document path: %w", err)
	}
	if err := os.WriteFile(docPath, []byte(doc), 0o644); err != nil {
		return nil, fmt.Errorf("render: write document: %w", err)
	}
	appLog.Debug("document written", "path", docPath, "bytes", len(doc))

	snap, err := r.Surface.Snapshot(ctx, "file://"+filepath.ToSlash(docPath), cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("render: capture: %w", err)
	}
	if b := snap.Bounds(); b.Dx() != cfg.Width || b.Dy() != cfg.Height {
		return nil, fmt.Errorf("render: snapshot is %dx%d, want %dx%d", b.Dx(), b.Dy(), cfg.Width, cfg.Height)
	}
	appLog.Info("screenshot captured", "width", cfg.Width, "height", cfg.Height)

	black, red := convert.Separate(snap)
	res := &Result{
		Document:     doc,
		DocumentPath: docPath,
		Snapshot:     snap,
		Black:        convert.Rotate(black, cfg.RotateAngle),
		Red:          convert.Rotate(red, cfg.RotateAngle),
	}
	appLog.Info("image colours processed", "rotate", cfg.RotateAngle)
	return res, nil
}
