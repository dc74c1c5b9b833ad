package domain

import (
	"fmt"
	"strings"
)

// Pair identifies a traded token pair as "BASE/QUOTE", e.g. "INJ/USDT".
type Pair string

// ParsePair validates and normalises a pair string to upper case.
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("domain: invalid pair %q (want BASE/QUOTE)", s)
	}
	return Pair(strings.ToUpper(parts[0]) + "/" + strings.ToUpper(parts[1])), nil
}

// Base returns the base asset symbol ("INJ" for "INJ/USDT").
func (p Pair) Base() string {
	if i := strings.IndexByte(string(p), '/'); i > 0 {
		return string(p)[:i]
	}
	return string(p)
}

// Quote returns the quote asset symbol ("USDT" for "INJ/USDT").
func (p Pair) Quote() string {
	if i := strings.IndexByte(string(p), '/'); i >= 0 {
		return string(p)[i+1:]
	}
	return ""
}

func (p Pair) String() string { return string(p) }
