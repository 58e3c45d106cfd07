package framework

import (
	"context"
	"time"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// RunnableFunc is the func form of Runnable.
type RunnableFunc func(context.Context) error

// Run implements Runnable.
func (f RunnableFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// TimeSource provides the time.
type TimeSource interface {
	Time() time.Time
}

// SystemClock is the TimeSource reading the wall clock.
type SystemClock struct{}

// Time implements TimeSource.
func (SystemClock) Time() time.Time {
	return time.Now()
}
