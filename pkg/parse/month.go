package parse

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	errs "pricescraper/pkg/errors"
)

var monthsPT = map[string]time.Month{
	"janeiro":   time.January,
	"fevereiro": time.February,
	"marco":     time.March,
	"abril":     time.April,
	"maio":      time.May,
	"junho":     time.June,
	"julho":     time.July,
	"agosto":    time.August,
	"setembro":  time.September,
	"outubro":   time.October,
	"novembro":  time.November,
	"dezembro":  time.December,
}

var monthAbbrevPT = map[string]time.Month{
	"jan": time.January,
	"fev": time.February,
	"mar": time.March,
	"abr": time.April,
	"mai": time.May,
	"jun": time.June,
	"jul": time.July,
	"ago": time.August,
	"set": time.September,
	"out": time.October,
	"nov": time.November,
	"dez": time.December,
}

// foldMonthName lowercases and strips diacritics so "Março" matches "marco"
func foldMonthName(s string) string {
	// transformers keep state, so build one per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(stripped)
}

// MonthFromName resolves a Portuguese month name or its three letter abbreviation
func MonthFromName(name string) (time.Month, bool) {
	key := foldMonthName(name)
	if m, ok := monthsPT[key]; ok {
		return m, true
	}
	m, ok := monthAbbrevPT[key]
	return m, ok
}

// ParseMonthLabel parses "<Mês>/<Ano>" labels such as "Março/2026" or "out/25"
func ParseMonthLabel(label string) (time.Month, int, error) {
	name, yearText, found := strings.Cut(strings.TrimSpace(label), "/")
	if !found {
		return 0, 0, errs.Parsing("month label %q has no '/' separator", label)
	}

	month, ok := MonthFromName(name)
	if !ok {
		return 0, 0, errs.Parsing("unknown month name %q", name)
	}

	yearText = strings.TrimSpace(yearText)
	year, err := strconv.Atoi(yearText)
	if err != nil {
		return 0, 0, errs.Wrap(errs.ErrorTypeParsing, err, "year in month label "+label)
	}
	if len(yearText) == 2 {
		year += 2000
	}
	if year < 1900 || year > 9999 {
		return 0, 0, errs.Parsing("year %d out of range in %q", year, label)
	}

	return month, year, nil
}
