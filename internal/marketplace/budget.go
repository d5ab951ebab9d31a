package marketplace

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var amountPattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?(?:\s*[kK]\b)?`)

// ParseBudget extracts a budget range from free text such as "$200 - $500",
// "Up to $1,500", "Budget: 2k" or "$45/hr". A single figure is returned as
// both bounds unless the text says "up to", in which case it is only the
// maximum. Unparseable text yields zero bounds.
func ParseBudget(text string) (lo, hi decimal.Decimal) {
	matches := amountPattern.FindAllString(text, 2)
	var values []decimal.Decimal
	for _, m := range matches {
		m = strings.ReplaceAll(strings.TrimSpace(m), ",", "")
		mult := decimal.NewFromInt(1)
		if strings.HasSuffix(m, "k") || strings.HasSuffix(m, "K") {
			mult = decimal.NewFromInt(1000)
			m = strings.TrimSpace(m[:len(m)-1])
		}
		v, err := decimal.NewFromString(m)
		if err != nil {
			continue
		}
		values = append(values, v.Mul(mult))
	}

	switch len(values) {
	case 0:
		return decimal.Zero, decimal.Zero
	case 1:
		if strings.Contains(strings.ToLower(text), "up to") {
			return decimal.Zero, values[0]
		}
		return values[0], values[0]
	default:
		if values[0].GreaterThan(values[1]) {
			return values[1], values[0]
		}
		return values[0], values[1]
	}
}
