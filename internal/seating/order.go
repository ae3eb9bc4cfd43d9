package seating

import (
	"sort"
	"strings"

	"github.com/iliyamo/campus-shuttle/internal/model"
)

// CompareIDs orders seat labels the way people read them: runs of digits
// compare by numeric value, everything else case-insensitively, so
// "2A" < "10A" and "4B" < "4C".
func CompareIDs(a, b string) int {
	for a != "" && b != "" {
		ra, restA := nextRun(a)
		rb, restB := nextRun(b)
		da, db := isDigit(ra[0]), isDigit(rb[0])
		var c int
		switch {
		case da && db:
			c = compareNumeric(ra, rb)
		case da:
			c = -1
		case db:
			c = 1
		default:
			c = strings.Compare(strings.ToLower(ra), strings.ToLower(rb))
		}
		if c != 0 {
			return c
		}
		a, b = restA, restB
	}
	switch {
	case a == "" && b != "":
		return -1
	case a != "" && b == "":
		return 1
	}
	return 0
}

// SortSeats orders seats in place by CompareIDs, falling back to a plain
// byte comparison so the order is total.
func SortSeats(seats []model.Seat) {
	sort.SliceStable(seats, func(i, j int) bool {
		if c := CompareIDs(seats[i].ID, seats[j].ID); c != 0 {
			return c < 0
		}
		return seats[i].ID < seats[j].ID
	})
}

func nextRun(s string) (run, rest string) {
	digit := isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digit {
		i++
	}
	return s[:i], s[i:]
}

func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
