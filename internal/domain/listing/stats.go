package listing

type Stats struct {
	Total     int64   `json:"total_listings"`
	Public    int64   `json:"public_listings"`
	Visible   int64   `json:"visible_listings"`
	Pending   int64   `json:"pending_listings"`
	Processed int64   `json:"processed_listings"`
	Failed    int64   `json:"failed_listings"`
	Success   float64 `json:"success_rate"`
}

// SuccessRate is public/total, 0 when there are no listings.
func SuccessRate(public int64, total int64) float64 {
	if total <= 0 || public <= 0 {
		return 0
	}
	if public >= total {
		return 1
	}
	return float64(public) / float64(total)
}
