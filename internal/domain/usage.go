package domain

import (
	"context"
	"time"
)

// UsageSample is one observed request, recorded for auditing and analytics.
type UsageSample struct {
	UserID     int64
	Endpoint   string
	Latency    time.Duration
	StatusCode int
	At         time.Time
}

// UsageSink persists usage samples. Implementations may be slow or flaky;
// callers must hand samples off asynchronously and never let a sink failure
// reach the request path.
type UsageSink interface {
	RecordUsage(ctx context.Context, sample UsageSample) error
}
