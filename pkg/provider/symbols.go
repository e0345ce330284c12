package provider

import (
	"strings"

	apperrors "github.com/Ruscigno/vprism/pkg/errors"
)

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// splitExchange separates a mainland exchange marker from a code.
// It understands sh600000, 600000.SH, 600000.SS and their sz counterparts.
func splitExchange(symbol string) (exchange, code string) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	switch {
	case len(s) > 2 && (strings.HasPrefix(s, "SH") || strings.HasPrefix(s, "SZ")) && isDigits(s[2:]):
		return s[:2], s[2:]
	case strings.HasSuffix(s, ".SS"), strings.HasSuffix(s, ".SH"):
		return "SH", strings.TrimSuffix(strings.TrimSuffix(s, ".SS"), ".SH")
	case strings.HasSuffix(s, ".SZ"):
		return "SZ", strings.TrimSuffix(s, ".SZ")
	}
	return "", s
}

// YahooSymbol rewrites a symbol into Yahoo Finance syntax:
// Shanghai listings end in .SS, Shenzhen in .SZ and Hong Kong codes use four digits.
func YahooSymbol(symbol string) string {
	exchange, code := splitExchange(symbol)
	switch exchange {
	case "SH":
		return code + ".SS"
	case "SZ":
		return code + ".SZ"
	}

	if base, ok := strings.CutSuffix(code, ".HK"); ok && isDigits(base) {
		base = strings.TrimLeft(base, "0")
		for len(base) < 4 {
			base = "0" + base
		}
		return base + ".HK"
	}
	return code
}

// EastMoneySecID rewrites a mainland symbol into the East Money "market.code" form.
// Bare codes are placed by their leading digit: 5, 6 and 9 trade in Shanghai.
func EastMoneySecID(symbol string) (string, error) {
	exchange, code := splitExchange(symbol)
	if len(code) != 6 || !isDigits(code) {
		return "", apperrors.Newf(apperrors.ErrCodeBadRequest, "unsupported symbol %q", symbol).
			WithDetail("symbol", symbol)
	}

	switch exchange {
	case "SH":
		return "1." + code, nil
	case "SZ":
		return "0." + code, nil
	}
	switch code[0] {
	case '5', '6', '9':
		return "1." + code, nil
	default:
		return "0." + code, nil
	}
}
