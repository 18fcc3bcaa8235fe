package tracker

import (
	"net/http/httptest"
	"testing"
)

func TestMarker(t *testing.T) {
	req := httptest.NewRequest("GET", "/cart.js", nil)
	if IsInternal(req) {
		t.Fatal("unmarked request reported internal")
	}

	MarkInternal(req)
	if got := req.Header.Get(MarkerHeader); got != "source=internal" {
		t.Errorf("%s = %q, want source=internal", MarkerHeader, got)
	}
	if !IsInternal(req) {
		t.Error("marked request not reported internal")
	}
}

func TestIsInternal_RejectsOtherValues(t *testing.T) {
	tests := []string{
		`source="internal"`,
		"source=external",
		"origin=internal",
		"source=(",
	}
	for _, header := range tests {
		t.Run(header, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/cart.js", nil)
			req.Header.Set(MarkerHeader, header)
			if IsInternal(req) {
				t.Errorf("IsInternal(%q) = true", header)
			}
		})
	}
}
