package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Pads holds face-crop margins in top, bottom, left, right order.
type Pads [4]int

// ParsePads parses whitespace-separated margins such as "0 10 0 0".
func ParsePads(raw string) (Pads, error) {
	fields := strings.Fields(raw)
	if len(fields) != 4 {
		return Pads{}, fmt.Errorf("pads must be four integers (top bottom left right), got %d values", len(fields))
	}

	var pads Pads
	for i, field := range fields {
		value, err := strconv.Atoi(field)
		if err != nil {
			return Pads{}, fmt.Errorf("pad %d is not an integer: %q", i+1, field)
		}
		pads[i] = value
	}
	if err := pads.Validate(); err != nil {
		return Pads{}, err
	}
	return pads, nil
}

// Validate rejects negative margins.
func (p Pads) Validate() error {
	for i, value := range p {
		if value < 0 {
			return fmt.Errorf("pad %d must be non-negative, got %d", i+1, value)
		}
	}
	return nil
}

// Tokens returns each margin as its own CLI token.
func (p Pads) Tokens() []string {
	out := make([]string, len(p))
	for i, value := range p {
		out[i] = strconv.Itoa(value)
	}
	return out
}

// String renders pads the way the settings form accepts them.
func (p Pads) String() string {
	return strings.Join(p.Tokens(), " ")
}
