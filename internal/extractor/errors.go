package extractor

import "errors"

// ErrNoSourcePool is returned when Copy is called without a SOURCE pool
// configured (environment where only replica/analytics are reachable).
var ErrNoSourcePool = errors.New("extractor: source pool not configured")
