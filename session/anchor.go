package session

import "time"

// Anchor ties a running session to the backend clock. Elapsed time is always
// derived from ServerStart, never from a local tick counter.
type Anchor struct {
	ServerStart time.Time     `json:"server_start"`
	Skew        time.Duration `json:"skew"`
}

// NewAnchor builds an anchor from a server start time and a skew sample.
func NewAnchor(serverStart time.Time, skew time.Duration) Anchor {
	return Anchor{ServerStart: serverStart, Skew: skew}
}

// AnchorFromStatus reconstructs the anchor of a live session after a reload.
// It prefers the server start time and falls back to serverNow minus the
// reported running seconds.
func AnchorFromStatus(ls *LiveSession, serverNow, clientNow time.Time) Anchor {
	var skew time.Duration
	if !serverNow.IsZero() {
		skew = serverNow.Sub(clientNow)
	} else {
		serverNow = clientNow
	}
	start := ls.StartTime
	if start.IsZero() {
		start = serverNow.Add(-time.Duration(ls.RunningSeconds) * time.Second)
	}
	return Anchor{ServerStart: start, Skew: skew}
}

// ServerNow converts a local timestamp to backend time.
func (a Anchor) ServerNow(clientNow time.Time) time.Time {
	return clientNow.Add(a.Skew)
}

// Elapsed is the session duration at clientNow, never negative.
func (a Anchor) Elapsed(clientNow time.Time) time.Duration {
	d := a.ServerNow(clientNow).Sub(a.ServerStart)
	if d < 0 {
		return 0
	}
	return d
}

// ElapsedSeconds is Elapsed truncated to whole seconds.
func (a Anchor) ElapsedSeconds(clientNow time.Time) int64 {
	return int64(a.Elapsed(clientNow) / time.Second)
}
