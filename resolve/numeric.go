package resolve

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// a number with an optional decimal part and an optional k/m unit directly after it
var countPattern = regexp.MustCompile(`(\d+)(?:\.(\d+))?([kKmM]\b)?`)

// grouping separators dropped before matching; a plain space is not one, so "1 234" reads
// as 1 and "5 m" as 5
var groupSeparators = strings.NewReplacer(",", "", "\u00a0", "", "\u202f", "")

// ParseCount normalizes an engagement counter such as "1.2k", "3,400" or "12 comments".
// Counters are zero-is-valid: text without digits yields 0, never an error. Values too
// large for an int saturate at math.MaxInt.
func ParseCount(text string) int {
	m := countPattern.FindStringSubmatch(groupSeparators.Replace(text))
	if m == nil {
		return 0
	}

	whole, err := strconv.Atoi(m[1])
	if errors.Is(err, strconv.ErrRange) {
		return math.MaxInt
	}
	if err != nil {
		return 0
	}

	multiplier := 1
	switch strings.ToLower(m[3]) {
	case "k":
		multiplier = 1_000
	case "m":
		multiplier = 1_000_000
	}

	if whole > math.MaxInt/multiplier {
		return math.MaxInt
	}
	value := whole * multiplier
	if frac := m[2]; frac != "" {
		// integer arithmetic so "1.2k" is exactly 1200; the remainder is floored away
		if len(frac) > 6 {
			frac = frac[:6]
		}
		digits, err := strconv.Atoi(frac)
		if err == nil {
			scale := 1
			for range frac {
				scale *= 10
			}
			extra := digits * multiplier / scale
			if value > math.MaxInt-extra {
				return math.MaxInt
			}
			value += extra
		}
	}
	return value
}
