package config

// InQuietWindow reports whether hour falls inside the [start, end) quiet
// window, wrapping past midnight when start > end. Equal start and end
// disable the window.
func InQuietWindow(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
