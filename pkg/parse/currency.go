// Package parse turns the localized text scraped from Brazilian sites into
// typed values: currency amounts written as "R$ 12.345,67" and month labels
// written as "Março/2026".
package parse

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	errs "pricescraper/pkg/errors"
)

// digits grouped by '.', optional ',' decimals
var brlPattern = regexp.MustCompile(`^(?:\d{1,3}(?:\.\d{3})+|\d+)(?:,\d+)?$`)

// ParseBRL parses a Brazilian real amount. The "R$" prefix is optional.
// The result is always positive; anything else is a parsing error.
func ParseBRL(text string) (decimal.Decimal, error) {
	s := strings.ReplaceAll(text, "\u00a0", " ")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)

	if !brlPattern.MatchString(s) {
		return decimal.Zero, errs.Parsing("malformed currency text %q", text)
	}

	s = strings.ReplaceAll(s, ".", "")
	s = strings.Replace(s, ",", ".", 1)

	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.ErrorTypeParsing, err, "decode currency "+text)
	}
	if !value.IsPositive() {
		return decimal.Zero, errs.Parsing("currency %q is not positive", text)
	}
	return value, nil
}

// FormatBRL renders an amount the way the source sites print it
func FormatBRL(value decimal.Decimal) string {
	fixed := value.StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	negative := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}

	out := "R$ " + b.String() + "," + frac
	if negative {
		out = "-" + out
	}
	return out
}
