package catalog

import "time"

// PartitionDays returns the UTC calendar days to register, oldest first: the
// day before today through today+(days-1), so days+1 dates in total.
func PartitionDays(now time.Time, days int) []time.Time {
	if days < 1 {
		return nil
	}

	y, m, d := now.UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	out := make([]time.Time, 0, days+1)
	for diff := -1; diff <= days-1; diff++ {
		out = append(out, today.AddDate(0, 0, diff))
	}
	return out
}
