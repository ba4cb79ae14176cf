// Package bssid parses and canonicalizes access-point MAC addresses.
package bssid

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid reports a string that is not a six-octet MAC address.
var ErrInvalid = errors.New("invalid bssid")

const octets = 6

// Canonicalize returns the lower-case, colon-separated, zero-padded form of
// raw. Octets may carry one or two hex digits and be separated by ':' or '-'.
func Canonicalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}
	parts := strings.FieldsFunc(trimmed, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != octets || strings.Count(trimmed, ":")+strings.Count(trimmed, "-") != octets-1 {
		return "", fmt.Errorf("%w: %q must have %d octets", ErrInvalid, raw, octets)
	}
	var b strings.Builder
	b.Grow(octets*3 - 1)
	for i, part := range parts {
		octet, err := PadOctet(part)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalid, raw, err)
		}
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(octet)
	}
	return b.String(), nil
}

// PadOctet lower-cases a single hex octet and restores a dropped leading zero.
func PadOctet(part string) (string, error) {
	if len(part) == 0 || len(part) > 2 {
		return "", fmt.Errorf("octet %q must be 1-2 hex digits", part)
	}
	lower := strings.ToLower(part)
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("octet %q is not hex", part)
		}
	}
	if len(lower) == 1 {
		return "0" + lower, nil
	}
	return lower, nil
}

// Valid reports whether raw canonicalizes cleanly.
func Valid(raw string) bool {
	_, err := Canonicalize(raw)
	return err == nil
}
