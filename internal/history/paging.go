package history

import "github.com/hpungsan/drip/internal/email"

// windowSize is the number of page buttons shown at once.
const windowSize = 5

// TotalPages returns the page count for total records, never less than 1.
func TotalPages(total, size int) int {
	if size <= 0 || total <= 0 {
		return 1
	}
	return (total + size - 1) / size
}

// ClampPage forces n into [1, totalPages].
func ClampPage(n, totalPages int) int {
	if totalPages < 1 {
		totalPages = 1
	}
	if n < 1 {
		return 1
	}
	if n > totalPages {
		return totalPages
	}
	return n
}

// PageWindow returns the page numbers to offer around current.
//
//	totalPages <= 5          -> 1..totalPages
//	current <= 3             -> 1..5
//	current >= totalPages-2  -> totalPages-4..totalPages
//	otherwise                -> current-2..current+2
func PageWindow(current, totalPages int) []int {
	if totalPages < 1 {
		totalPages = 1
	}
	current = ClampPage(current, totalPages)

	var start int
	switch {
	case totalPages <= windowSize:
		start = 1
	case current <= 3:
		start = 1
	case current >= totalPages-2:
		start = totalPages - windowSize + 1
	default:
		start = current - 2
	}

	n := min(windowSize, totalPages)
	pages := make([]int, n)
	for i := range pages {
		pages[i] = start + i
	}
	return pages
}

// Slice returns page n of records. n is clamped first.
func Slice(records []email.Record, n, size int) []email.Record {
	if size <= 0 || len(records) == 0 {
		return nil
	}
	n = ClampPage(n, TotalPages(len(records), size))
	lo := (n - 1) * size
	hi := min(lo+size, len(records))
	return records[lo:hi]
}
