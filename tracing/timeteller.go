package tracing

import "time"

// VTimeInSec is a time in seconds, measured from the moment the time teller
// was created.
type VTimeInSec float64

// A TimeTeller can tell the current time.
type TimeTeller interface {
	CurrentTime() VTimeInSec
}

// NewWallClock creates a TimeTeller that reports the elapsed wall time.
func NewWallClock() TimeTeller {
	return &wallClock{start: time.Now()}
}

type wallClock struct {
	start time.Time
}

func (c *wallClock) CurrentTime() VTimeInSec {
	return VTimeInSec(time.Since(c.start).Seconds())
}
