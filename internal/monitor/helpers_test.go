package monitor

import (
	"strconv"
	"strings"
)

func itoa(n int) string { return strconv.Itoa(n) }

func parsePIDs(s string) []int {
	var out []int
	for _, f := range strings.Fields(s) {
		if n, err := strconv.Atoi(f); err == nil {
			out = append(out, n)
		}
	}
	return out
}
