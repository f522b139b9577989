package probes

// Count is a covered/total probe tally for some scope.
type Count struct {
	Covered int `json:"covered"`
	Total   int `json:"total"`
}

// CountOf tallies a whole vector.
func CountOf(b Bits) Count {
	return Count{Covered: b.Count(), Total: b.Width()}
}

// Add returns the element-wise sum of two counts.
func (c Count) Add(o Count) Count {
	return Count{Covered: c.Covered + o.Covered, Total: c.Total + o.Total}
}

// Percentage returns covered/total*100, or 0 when total is 0.
func (c Count) Percentage() float64 {
	return Percentage(c.Covered, c.Total)
}

// Ratio returns covered/total in [0,1], or 0 when total is 0.
func (c Count) Ratio() float64 {
	if c.Total <= 0 {
		return 0
	}
	return float64(c.Covered) / float64(c.Total)
}

// Percentage returns covered/total*100, or 0 when total is 0.
func Percentage(covered, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(covered) / float64(total) * 100
}
