package models

import "fmt"

// IntervalLabel renders a timeframe in minutes the way logs and reasons show it
func IntervalLabel(minutes int) string {
	switch {
	case minutes <= 0:
		return "unknown"
	case minutes%10080 == 0:
		return fmt.Sprintf("%dw", minutes/10080)
	case minutes%1440 == 0:
		return fmt.Sprintf("%dd", minutes/1440)
	case minutes%60 == 0:
		return fmt.Sprintf("%dh", minutes/60)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// CandlesForDays estimates how many bars of the given interval cover the
// requested number of days, with a 10% buffer.
func CandlesForDays(intervalMinutes int, days int) int {
	if intervalMinutes <= 0 || days <= 0 {
		return 0
	}

	candlesPerDay := float64(24*60) / float64(intervalMinutes)
	count := int(candlesPerDay * float64(days) * 1.1)
	if count < 1 {
		count = 1
	}
	return count
}
