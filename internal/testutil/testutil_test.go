package testutil

import (
	"net/http"
	"testing"
	"time"
)

func TestAssertBlocks(t *testing.T) {
	release := make(chan struct{})
	done := Go(func() { <-release })
	if !AssertBlocks(t, done, 10*time.Millisecond) {
		t.Fatal("expected blocked call")
	}
	close(release)
	if !AssertReturns(t, done, time.Second) {
		t.Fatal("expected call to return after release")
	}
}

func TestEventually(t *testing.T) {
	n := 0
	if !Eventually(t, time.Second, func() bool { n++; return n > 3 }) {
		t.Fatal("expected condition to be met")
	}
}

func TestRawFrame(t *testing.T) {
	s := RawFrame(5, "A", "B")
	if s.FrameNumber() != 5 || s.SubjectCount() != 2 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	if got := s.SegmentGlobalTranslation("B", "B"); got != [3]float64{2, 1, 1} {
		t.Errorf("B translation = %v", got)
	}
	h := HiddenSubject("H")
	if h.Segments[0].Rotation != [9]float64{} {
		t.Errorf("hidden subject rotation = %v", h.Segments[0].Rotation)
	}
}

func TestHTTPHelpers(t *testing.T) {
	req := NewTestRequest(http.MethodPost, "/debug/filters")
	if req.Method != http.MethodPost || req.URL.Path != "/debug/filters" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	w := NewTestRecorder()
	w.WriteHeader(http.StatusAccepted)
	AssertStatusCode(t, w.Code, http.StatusAccepted)
}
