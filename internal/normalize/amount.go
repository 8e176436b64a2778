package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	errEmptyAmount   = errors.New("empty amount")
	errNoDigits      = errors.New("no digits")
	errBadCharacters = errors.New("unexpected characters")
	errSeparators    = errors.New("ambiguous separators")
	errNotFinite     = errors.New("not a finite number")
)

// ParseAmount converts a numeric or textual amount into a signed decimal.
//
// Strings may carry a currency prefix or suffix ("R$ 3.000,00", "12.50 EUR"),
// thousands separators (".", ",", "'", spaces), a leading or trailing minus
// sign, or accounting parentheses. sep selects the decimal separator; zero
// means it is inferred: when both "." and "," appear the last one wins, and
// a lone separator is decimal unless exactly three digits follow a non-zero
// integer part. In that case the currency decides ("R$ 1.500" is 1500,
// "$1,500" is 1500, "$1.500" is 1.5) and without one it is a thousands
// separator. JSON numbers always use ".".
func ParseAmount(v any, sep rune) (decimal.Decimal, error) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return decimal.Zero, errNotFinite
		}
		return decimal.NewFromFloat(val), nil
	case float32:
		return ParseAmount(float64(val), sep)
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case int32:
		return decimal.NewFromInt(int64(val)), nil
	case json.Number:
		return parseAmountString(val.String(), '.')
	case string:
		return parseAmountString(val, sep)
	case nil:
		return decimal.Zero, errEmptyAmount
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", v)
	}
}

func parseAmountString(raw string, sep rune) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, errEmptyAmount
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	first := strings.IndexFunc(s, unicode.IsDigit)
	last := strings.LastIndexFunc(s, unicode.IsDigit)
	if first < 0 {
		return decimal.Zero, errNoDigits
	}

	prefix, core, suffix := s[:first], s[first:last+1], s[last+1:]

	// ".50" and "-,5" keep their leading separator.
	if p := strings.TrimRight(prefix, ".,"); len(p) < len(prefix) {
		core = prefix[len(p):] + core
		prefix = p
	}

	if hasMinus(prefix) || hasMinus(strings.TrimSpace(suffix)) {
		negative = !negative
	}

	core = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'', '\u2019':
			return -1
		}
		return r
	}, core)
	for _, r := range core {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return decimal.Zero, fmt.Errorf("%w in %q", errBadCharacters, raw)
		}
	}

	canonical, err := canonicalSeparators(core, sep, currencySeparator(prefix+suffix))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w in %q", err, raw)
	}
	if strings.HasPrefix(canonical, ".") {
		canonical = "0" + canonical
	}

	d, err := decimal.NewFromString(canonical)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %q: %w", raw, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func hasMinus(s string) bool {
	return strings.ContainsAny(s, "-\u2212")
}

// Currencies whose amounts are written with a decimal comma, and those
// written with a decimal point.
var (
	commaDecimalCurrencies = []string{"R$", "BRL", "€", "EUR"}
	dotDecimalCurrencies   = []string{"US$", "$", "USD", "£", "GBP"}
)

// currencySeparator returns the decimal separator implied by a currency
// marker in s, or zero.
func currencySeparator(s string) rune {
	s = strings.ToUpper(s)
	for _, c := range commaDecimalCurrencies {
		if strings.Contains(s, c) {
			return ','
		}
	}
	for _, c := range dotDecimalCurrencies {
		if strings.Contains(s, c) {
			return '.'
		}
	}
	return 0
}

// canonicalSeparators rewrites core so that "." is the only, decimal,
// separator. hint is the separator implied by the currency and only settles
// a lone separator followed by three digits.
func canonicalSeparators(core string, sep, hint rune) (string, error) {
	dots := strings.Count(core, ".")
	commas := strings.Count(core, ",")

	switch sep {
	case '.':
		if dots > 1 {
			return "", errSeparators
		}
		return strings.ReplaceAll(core, ",", ""), nil
	case ',':
		if commas > 1 {
			return "", errSeparators
		}
		return strings.ReplaceAll(strings.ReplaceAll(core, ".", ""), ",", "."), nil
	}

	switch {
	case dots > 0 && commas > 0:
		if strings.LastIndex(core, ",") > strings.LastIndex(core, ".") {
			if commas > 1 {
				return "", errSeparators
			}
			return strings.ReplaceAll(strings.ReplaceAll(core, ".", ""), ",", "."), nil
		}
		if dots > 1 {
			return "", errSeparators
		}
		return strings.ReplaceAll(core, ",", ""), nil
	case commas == 1:
		return loneSeparator(core, ',', hint), nil
	case dots == 1:
		return loneSeparator(core, '.', hint), nil
	case commas > 1:
		return strings.ReplaceAll(core, ",", ""), nil
	case dots > 1:
		return strings.ReplaceAll(core, ".", ""), nil
	default:
		return core, nil
	}
}

// loneSeparator resolves a core holding exactly one separator r.
func loneSeparator(core string, r, hint rune) string {
	idx := strings.IndexRune(core, r)
	intPart := strings.TrimLeft(core[:idx], "0")
	thousands := len(core)-idx-1 == 3 && intPart != ""
	if thousands && hint != 0 {
		thousands = hint != r
	}
	if thousands {
		return strings.Replace(core, string(r), "", 1)
	}
	return strings.Replace(core, string(r), ".", 1)
}
