package orchestrator

// DueIntervals returns the intervals to sync for a tick at hour:minute.
// Longer intervals are staggered a few minutes past their boundary so the
// exchange has finalized the closed candle before it is fetched.
func DueIntervals(hour, minute int) []string {
	due := []string{"1m"}
	if minute%15 == 0 {
		due = append(due, "15m")
	}
	if minute == 1 || minute == 31 {
		due = append(due, "30m")
	}
	if minute == 2 {
		due = append(due, "1h")
	}
	if minute == 3 && hour%4 == 0 {
		due = append(due, "4h")
	}
	if hour == 0 && minute == 4 {
		due = append(due, "1d")
	}
	if hour == 0 && minute == 5 {
		due = append(due, "3d")
	}
	return due
}
