package fulfillment

import (
	"time"

	"github.com/dokzlo13/glowbridge/internal/store"
)

// OnlineWindow is the maximum silence after which a device is presumed
// offline.
const OnlineWindow = 90 * time.Second

// IsOnline reports whether a device that was last seen at lastSeen is
// considered online at now. A zero lastSeen means the device never
// reported and is offline. The comparison is strict: exactly
// OnlineWindow of silence is already offline.
func IsOnline(now, lastSeen time.Time) bool {
	if lastSeen.IsZero() {
		return false
	}
	return now.Sub(lastSeen) < OnlineWindow
}

// lastSeenOf extracts the lastSeen timestamp (epoch millis) from a
// device document. Missing or malformed values yield the zero time.
func lastSeenOf(doc store.Document) time.Time {
	millis, ok := doc["lastSeen"].(float64)
	if !ok || millis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(millis))
}
