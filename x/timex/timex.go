package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// NextBackoff doubles cur, capped at limit. limit <= 0 means no cap.
func NextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next <= 0 {
		next = cur
	}
	if limit > 0 && next > limit {
		return limit
	}
	return next
}
