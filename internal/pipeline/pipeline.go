// Package pipeline runs one refresh cycle: read the battery, fetch the
// calendars, render them and publish the resulting images.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"maginkcal/internal/battery"
	"maginkcal/internal/config"
	"maginkcal/internal/convert"
	"maginkcal/internal/fetch"
	appLog "maginkcal/internal/log"
	"maginkcal/internal/model"
	"maginkcal/internal/render"
)

// CurrentLink is the symlink in the output directory that points at the
// generation directory of the last successful cycle.
const CurrentLink = "current"

const generationPattern = ".gen-*"

// Artifact file names inside a generation directory.
const (
	DocumentFile   = "calendar.html"
	PreviewFile    = "calendar.png"
	BlackFile      = "black.png"
	RedFile        = "red.png"
	BlackPlaneFile = "black.bin"
	RedPlaneFile   = "red.bin"
)

// Artifacts describes the output of a successful cycle.
type Artifacts struct {
	Dir        string    `json:"dir"`
	Files      []string  `json:"files"`
	RenderedAt time.Time `json:"rendered_at"`
	Events     int       `json:"events"`
	Battery    int       `json:"battery_percent"`
}

// Path returns the absolute path of an artifact file.
func (a Artifacts) Path(name string) string {
	return filepath.Join(a.Dir, name)
}

// Options wires the collaborators of a Pipeline.
type Options struct {
	Config   *config.Config
	Querier  fetch.Querier
	Surface  render.Surface
	Template *template.Template
	Battery  battery.Reader

	// RenderOnly skips fetching and renders empty calendars.
	RenderOnly bool
	// Dump additionally writes packed 1bpp planes.
	Dump bool

	Now func() time.Time
}

// Pipeline runs refresh cycles. RunOnce calls are serialized.
type Pipeline struct {
	cfg        *config.Config
	loc        *time.Location
	weekStart  time.Weekday
	sources    []fetch.Source
	fetcher    *fetch.Fetcher
	renderer   *render.Renderer
	battery    battery.Reader
	renderOnly bool
	dump       bool
	now        func() time.Time

	runMu sync.Mutex

	mu        sync.RWMutex
	last      model.Calendars
	artifacts Artifacts
	ok        bool
}

// New validates opts.Config and prepares a pipeline.
func New(opts Options) (*Pipeline, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("pipeline: config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Surface == nil {
		return nil, errors.New("pipeline: no rendering surface")
	}
	if opts.Template == nil {
		return nil, errors.New("pipeline: no template")
	}
	if opts.Querier == nil && !opts.RenderOnly {
		return nil, errors.New("pipeline: no querier")
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	ws, err := config.ParseWeekday(cfg.WeekStart)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	br := opts.Battery
	if br == nil {
		br = battery.FromConfig(cfg.Battery)
	}

	sources := make([]fetch.Source, 0, len(cfg.Calendars))
	for _, c := range cfg.Calendars {
		sources = append(sources, fetch.Source{ID: c.ID, Name: c.Name, Icon: c.Icon})
	}

	return &Pipeline{
		cfg:        cfg,
		loc:        loc,
		weekStart:  ws,
		sources:    sources,
		fetcher:    fetch.New(opts.Querier, fetch.WithClock(now), fetch.WithTimeout(cfg.FetchTimeout)),
		renderer:   &render.Renderer{Surface: opts.Surface, Template: opts.Template},
		battery:    br,
		renderOnly: opts.RenderOnly,
		dump:       opts.Dump,
		now:        now,
	}, nil
}

// Last returns the calendars and artifacts of the most recent successful
// cycle. ok is false until one has completed.
func (p *Pipeline) Last() (cals model.Calendars, art Artifacts, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.artifacts, p.ok
}

// Battery reads the current battery status.
func (p *Pipeline) Battery(ctx context.Context) (battery.Status, error) {
	return p.battery.Read(ctx)
}

// RunOnce performs a full cycle. Each cycle writes a fresh generation
// directory that becomes visible through CurrentLink only once every stage
// succeeded; a failed cycle leaves the previous artifacts in place.
func (p *Pipeline) RunOnce(ctx context.Context) (Artifacts, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	started := p.now()
	now := started.In(p.loc)

	st, err := p.battery.Read(ctx)
	if err != nil {
		// FromConfig readers never fail; custom ones might.
		appLog.Warn("battery read failed", err)
	}

	origin, days := render.GridWindow(now, p.weekStart)
	pad := p.cfg.WindowPaddingDays
	start := origin.AddDate(0, 0, -pad)
	end := origin.AddDate(0, 0, days+pad)

	var cals model.Calendars
	if p.renderOnly {
		cals = p.emptyCalendars()
	} else {
		cals, err = p.fetcher.Fetch(ctx, p.sources, start, end, p.loc, p.cfg.RecentHours())
		if err != nil {
			return Artifacts{}, err
		}
	}

	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return Artifacts{}, fmt.Errorf("pipeline: create output dir: %w", err)
	}
	staging, err := os.MkdirTemp(p.cfg.OutputDir, generationPattern)
	if err != nil {
		return Artifacts{}, fmt.Errorf("pipeline: create staging dir: %w", err)
	}
	published := false
	defer func() {
		if !published {
			os.RemoveAll(staging)
		}
	}()
	if err := os.Chmod(staging, 0o755); err != nil {
		return Artifacts{}, fmt.Errorf("pipeline: %w", err)
	}

	renderer := *p.renderer
	renderer.WorkDir = staging
	res, err := renderer.Render(ctx, cals, p.renderConfig(now, st.Percent))
	if err != nil {
		return Artifacts{}, err
	}

	files, err := p.writeImages(staging, res)
	if err != nil {
		return Artifacts{}, err
	}
	files = append([]string{DocumentFile}, files...)

	prev, err := publish(p.cfg.OutputDir, staging)
	if err != nil {
		return Artifacts{}, err
	}
	published = true

	dir, err := filepath.Abs(filepath.Join(p.cfg.OutputDir, CurrentLink))
	if err != nil {
		dir = filepath.Join(p.cfg.OutputDir, CurrentLink)
	}
	art := Artifacts{
		Dir:        dir,
		Files:      files,
		RenderedAt: now,
		Events:     cals.EventCount(),
		Battery:    st.Percent,
	}

	p.mu.Lock()
	p.last = cals
	p.artifacts = art
	p.ok = true
	p.mu.Unlock()

	if prev != "" && prev != filepath.Base(staging) {
		if err := os.RemoveAll(filepath.Join(p.cfg.OutputDir, prev)); err != nil {
			appLog.Warn("failed to remove previous generation", err, "dir", prev)
		}
	}

	appLog.Info("refresh cycle complete",
		"events", art.Events,
		"dir", art.Dir,
		"elapsed", p.now().Sub(started).Round(time.Millisecond),
	)
	return art, nil
}

// publish points the CurrentLink symlink of outDir at gen with a single
// rename, so readers see either the previous set of files or the new one.
// It returns the generation the link pointed at before, if any.
func publish(outDir, gen string) (string, error) {
	link := filepath.Join(outDir, CurrentLink)
	prev, err := os.Readlink(link)
	if err != nil || !isGeneration(prev) {
		prev = ""
	}

	tmp := link + ".new"
	_ = os.Remove(tmp)
	if err := os.Symlink(filepath.Base(gen), tmp); err != nil {
		return "", fmt.Errorf("pipeline: publish: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("pipeline: publish: %w", err)
	}
	return prev, nil
}

func isGeneration(name string) bool {
	ok, _ := filepath.Match(generationPattern, name)
	return ok && name == filepath.Base(name)
}

func (p *Pipeline) emptyCalendars() model.Calendars {
	cals := make(model.Calendars, 0, len(p.sources))
	for _, s := range p.sources {
		cals = append(cals, &model.Calendar{ID: s.ID, Name: s.Name, Icon: s.Icon, Events: []model.Event{}})
	}
	return cals
}

func (p *Pipeline) renderConfig(now time.Time, batteryPercent int) render.Config {
	var dow [7]string
	copy(dow[:], p.cfg.DayOfWeekText)
	return render.Config{
		Today:             now,
		LastRefresh:       now,
		BatteryPercent:    batteryPercent,
		BatteryMode:       batteryMode(p.cfg.Battery.DisplayMode),
		BatteryLowPercent: p.cfg.Battery.LowPercent,
		MaxEventsPerDay:   p.cfg.MaxEventsPerDay,
		DayOfWeekText:     dow,
		WeekStart:         p.weekStart,
		Is24Hour:          p.cfg.Is24Hour,
		Width:             p.cfg.Image.Width,
		Height:            p.cfg.Image.Height,
		RotateAngle:       p.cfg.Image.RotateAngle,
		HighlightRed:      p.cfg.HighlightRed,
	}
}

func batteryMode(s string) render.BatteryMode {
	switch s {
	case config.BatteryNever:
		return render.BatteryNever
	case config.BatteryAlways:
		return render.BatteryAlways
	case config.BatteryWhenLow:
		return render.BatteryWhenLow
	}
	// render.Config.Validate rejects it.
	return render.BatteryMode(s)
}

// writeImages stores the render result in dir and returns the written file
// names.
func (p *Pipeline) writeImages(dir string, res *render.Result) ([]string, error) {
	images := []struct {
		name string
		img  image.Image
	}{
		{PreviewFile, res.Snapshot},
		{BlackFile, res.Black},
		{RedFile, res.Red},
	}
	files := make([]string, 0, 5)
	for _, it := range images {
		if err := imaging.Save(it.img, filepath.Join(dir, it.name)); err != nil {
			return nil, fmt.Errorf("pipeline: save %s: %w", it.name, err)
		}
		files = append(files, it.name)
	}

	if !p.dump {
		return files, nil
	}
	bp, rp, err := convert.PackPlanes(res.Black, res.Red)
	if err != nil {
		return nil, err
	}
	for name, plane := range map[string]convert.Plane{BlackPlaneFile: bp, RedPlaneFile: rp} {
		if err := os.WriteFile(filepath.Join(dir, name), plane.Bits, 0o644); err != nil {
			return nil, fmt.Errorf("pipeline: write %s: %w", name, err)
		}
	}
	return append(files, BlackPlaneFile, RedPlaneFile), nil
}
