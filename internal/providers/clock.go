package providers

import "time"

// timeNow is indirected so tests can freeze observation timestamps without
// reaching into each adapter's internals.
var timeNow = func() time.Time { return time.Now().UTC() }

func timeSince(t time.Time) time.Duration { return timeNow().Sub(t) }
