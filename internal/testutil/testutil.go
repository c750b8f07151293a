// Package testutil provides shared test utilities and fixtures.
//
// The blocking helpers give bounded-time checks for calls that are expected
// to block indefinitely: a call is considered blocked when it has not
// returned within the given window.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed"
)

// BlockWindow is how long AssertBlocks waits before deciding a call blocked.
const BlockWindow = 50 * time.Millisecond

// ReturnWindow bounds how long AssertReturns waits for a call to finish.
const ReturnWindow = 2 * time.Second

// Go runs fn in a goroutine. The returned channel is closed when fn returns.
func Go(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return done
}

// AssertBlocks fails the test if done is closed within d.
func AssertBlocks(t testing.TB, done <-chan struct{}, d time.Duration) bool {
	t.Helper()
	select {
	case <-done:
		t.Errorf("call returned within %v, expected it to block", d)
		return false
	case <-time.After(d):
		return true
	}
}

// AssertReturns fails the test if done is not closed within d.
func AssertReturns(t testing.TB, done <-chan struct{}, d time.Duration) bool {
	t.Helper()
	select {
	case <-done:
		return true
	case <-time.After(d):
		t.Errorf("call did not return within %v", d)
		return false
	}
}

// Eventually polls cond every few milliseconds until it holds or d elapses.
func Eventually(t testing.TB, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Errorf("condition not met within %v", d)
	return false
}

// Identity is the row-major 3x3 identity as the feed reports it.
var Identity = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

// RawFrame builds a feed snapshot of visible rigid bodies. Each name is
// placed at x = index+1 with identity rotation.
func RawFrame(number uint64, names ...string) *feed.Snapshot {
	s := &feed.Snapshot{Number: number}
	for i, n := range names {
		s.Subjects = append(s.Subjects, feed.RigidSubject(n, Identity, [3]float64{float64(i + 1), 1, 1}))
	}
	return s
}

// HiddenSubject returns a rigid subject reported with an all-zero pose.
func HiddenSubject(name string) feed.Subject {
	return feed.RigidSubject(name, [9]float64{}, [3]float64{})
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewDebugRequest creates a request from a loopback address, which the
// /debug/ handlers require.
func NewDebugRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
