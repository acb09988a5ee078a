package capture

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
)

func TestCompensatedViewport(t *testing.T) {
	cases := []struct {
		want, requested, got, expect image.Point
	}{
		{image.Pt(800, 480), image.Pt(800, 480), image.Pt(800, 480), image.Pt(800, 480)},
		// a 15px scrollbar ate into the width
		{image.Pt(800, 480), image.Pt(800, 480), image.Pt(785, 480), image.Pt(815, 480)},
		{image.Pt(1304, 984), image.Pt(1304, 984), image.Pt(1304, 900), image.Pt(1304, 1068)},
		// overshoot shrinks the request
		{image.Pt(640, 384), image.Pt(700, 400), image.Pt(660, 390), image.Pt(680, 394)},
	}
	for _, tc := range cases {
		if got := CompensatedViewport(tc.want, tc.requested, tc.got); got != tc.expect {
			t.Fatalf("CompensatedViewport(%v, %v, %v) = %v, want %v", tc.want, tc.requested, tc.got, got, tc.expect)
		}
	}
}

func TestLookupBrowserExplicitPath(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "chromium")
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := LookupBrowser(exe)
	if err != nil || got != exe {
		t.Fatalf("LookupBrowser = %q, %v", got, err)
	}

	if _, err := LookupBrowser(filepath.Join(dir, "missing")); !errors.Is(err, ErrBrowserNotFound) {
		t.Fatalf("missing path err = %v", err)
	}
	if _, err := LookupBrowser(dir); !errors.Is(err, ErrBrowserNotFound) {
		t.Fatalf("directory err = %v", err)
	}
}

func TestLookupBrowserOnPath(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "headless-shell")
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir)

	got, err := LookupBrowser("")
	if err != nil || got != exe {
		t.Fatalf("LookupBrowser = %q, %v", got, err)
	}

	t.Setenv("PATH", t.TempDir())
	if _, err := LookupBrowser(""); !errors.Is(err, ErrBrowserNotFound) {
		t.Fatalf("empty PATH err = %v", err)
	}
}

func TestSnapshotFailsFastWithoutBrowser(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	c := &Chromium{}
	if err := c.Check(); !errors.Is(err, ErrBrowserNotFound) {
		t.Fatalf("Check err = %v", err)
	}
	_, err := c.Snapshot(context.Background(), "file:///tmp/calendar.html", 10, 10)
	if !errors.Is(err, ErrBrowserNotFound) {
		t.Fatalf("Snapshot err = %v", err)
	}
}

func TestRemoteSkipsLookup(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	c := &Chromium{RemoteURL: "ws://127.0.0.1:9222"}
	if err := c.Check(); err != nil {
		t.Fatalf("Check with remote url = %v", err)
	}
}
