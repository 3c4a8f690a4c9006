package authclient

import "time"

// Metrics receives coordinator events. See metrics/prometheus for a collector.
type Metrics interface {
	RefreshStarted()
	RefreshCompleted(success bool, duration time.Duration)
	RequestQueued()
	QueuedRequestCancelled()
	// RequestReplayed reports "resolved" or the failure kind of the replay, and
	// how long the request waited since it was queued.
	RequestReplayed(result string, waited time.Duration)
	SessionInvalidated()
}

type nopMetrics struct{}

func (nopMetrics) RefreshStarted() {}
func (nopMetrics) RefreshCompleted(bool, time.Duration) {}
func (nopMetrics) RequestQueued() {}
func (nopMetrics) QueuedRequestCancelled() {}
func (nopMetrics) RequestReplayed(string, time.Duration) {}
func (nopMetrics) SessionInvalidated() {}
