package domain

import "time"

// Clock abstracts "now" so expiry and TTL checks are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation used in production.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
