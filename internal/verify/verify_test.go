package verify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gtm-datalayer/internal/inject"
	"gtm-datalayer/internal/scripts"
)

func headWith(version string) string {
	return "\n" + inject.BeginMarker(inject.BlockHead, version) + "\n<script>window.dataLayer=[];</script>\n" +
		inject.EndMarker(inject.BlockHead) + "\n<title>Demo</title>"
}

func entries(raw ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(raw))
	for i, r := range raw {
		out[i] = json.RawMessage(r)
	}
	return out
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name          string
		head          string
		configured    bool
		dataLayer     []json.RawMessage
		wantOK        bool
		wantCurrent   bool
		wantContainer bool
		wantEvents    []string
	}{
		{
			name:          "installed and active",
			head:          headWith(scripts.Version),
			configured:    true,
			dataLayer:     entries(`{"gtm.start":1,"event":"gtm.js"}`, `{"ecommerce":null}`, `{"event":"page_view","ecommerce":{}}`),
			wantOK:        true,
			wantCurrent:   true,
			wantContainer: true,
			wantEvents:    []string{"gtm.js", "page_view"},
		},
		{
			name:       "older version",
			head:       headWith("v1.0.0"),
			configured: true,
			wantOK:     true,
			wantEvents: []string{},
		},
		{
			name:       "not installed",
			head:       "<title>Demo</title>",
			wantEvents: []string{},
		},
		{
			name:        "block without runtime config",
			head:        headWith(scripts.Version),
			dataLayer:   entries(`["consent","default",{}]`),
			wantCurrent: true,
			wantEvents:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Analyze(tt.head, tt.configured, tt.dataLayer)
			if r.OK() != tt.wantOK {
				t.Errorf("OK() = %v, want %v", r.OK(), tt.wantOK)
			}
			if r.Current != tt.wantCurrent {
				t.Errorf("Current = %v, want %v (version %q)", r.Current, tt.wantCurrent, r.Version)
			}
			if r.ContainerLoaded != tt.wantContainer {
				t.Errorf("ContainerLoaded = %v, want %v", r.ContainerLoaded, tt.wantContainer)
			}
			if strings.Join(r.Events, ",") != strings.Join(tt.wantEvents, ",") {
				t.Errorf("Events = %v, want %v", r.Events, tt.wantEvents)
			}
		})
	}
}

func TestChromePath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "chrome")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	if got := chromePath(bin); got != bin {
		t.Errorf("chromePath(override) = %q, want %q", got, bin)
	}

	t.Setenv("CHROME_PATH", bin)
	if got := chromePath(filepath.Join(dir, "missing")); got != bin {
		t.Errorf("chromePath(missing override) = %q, want CHROME_PATH %q", got, bin)
	}
}

func TestIsContainerRequest(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.googletagmanager.com/gtm.js?id=GTM-ABC123", true},
		{"https://www.googletagmanager.com/gtm.js?id=GTM-ABC123&l=dataLayer", true},
		{"https://www.googletagmanager.com/gtag/js?id=G-XYZ", false},
		{"https://cdn.example.com/gtm.js?id=GTM-ABC123", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		if got := IsContainerRequest(tt.url); got != tt.want {
			t.Errorf("IsContainerRequest(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
