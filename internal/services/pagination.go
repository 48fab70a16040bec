package services

const maxLimit = 100

// clampLimit caps page sizes. Zero or less means every row.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 0
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
