package rates

// Allow steps a fixed window of length window (milliseconds) that admits at
// most max events. A denied event leaves the count unchanged and reports how
// long until the window rolls over.
func Allow(nowMs, startMs int64, count int, window int64, max int) (newStart int64, newCount int, ok bool, retryAfterMs int64) {
	newStart = startMs
	newCount = count
	if window <= 0 || max <= 0 {
		return newStart, newCount, true, 0
	}

	if nowMs-newStart >= window || nowMs < newStart {
		newStart = nowMs
		newCount = 0
	}
	if newCount < max {
		return newStart, newCount + 1, true, 0
	}
	return newStart, newCount, false, (newStart + window) - nowMs
}

// Stale reports whether a window last started at startMs has been idle for
// more than two window lengths.
func Stale(nowMs, startMs, window int64) bool {
	return nowMs-startMs > 2*window
}
