package monitor

// confidenceFor grades a change signal by how much history backs it. A hash
// flip on a page checked hundreds of times is a stronger signal than one on
// a page seen twice. Advisory only; it never suppresses a notification.
func confidenceFor(totalChecks int64) string {
	switch {
	case totalChecks < 5:
		return "low"
	case totalChecks < 20:
		return "medium"
	default:
		return "high"
	}
}
