package aggregator

import "time"

var timeNow = func() time.Time { return time.Now().UTC() }

func timeSince(t time.Time) time.Duration { return timeNow().Sub(t) }
