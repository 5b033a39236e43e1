// Package domain defines core data structures shared by the solver, planner and DCA engine.
package domain

import (
	"fmt"
	"strings"
)

// Pair asset/quote pair, e.g. ETH_USDT.
type Pair struct {
	// From asset symbol.
	From string
	// To quote (stablecoin) symbol.
	To string
}

// ParsePair parses a BASE_QUOTE string.
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("invalid pair %q, expected BASE_QUOTE", s)
	}

	return Pair{From: strings.ToUpper(parts[0]), To: strings.ToUpper(parts[1])}, nil
}

// String returns the string representation.
func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

// Symbol returns the concatenated exchange symbol.
func (p Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.From, p.To)
}

// MarshalText implements encoding.TextMarshaler. The zero pair encodes as "".
func (p Pair) MarshalText() ([]byte, error) {
	if p == (Pair{}) {
		return []byte{}, nil
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pair) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = Pair{}
		return nil
	}
	parsed, err := ParsePair(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
