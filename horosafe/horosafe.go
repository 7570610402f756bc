// Package horosafe provides small safety guards for untrusted input: bounded
// reads of remote responses, file-name validation and secret redaction.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxResponseBody is the default cap for remote JSON responses.
const MaxResponseBody int64 = 1 << 20

// ErrResponseTooLarge is returned by LimitedReadAll when the cap is hit.
var ErrResponseTooLarge = errors.New("horosafe: response too large")

// ValidateFileName rejects names that are empty, too long, contain a path
// separator, or are made only of dots. Allows alphanumeric, underscore,
// hyphen and dot.
func ValidateFileName(s string) error {
	if s == "" {
		return fmt.Errorf("horosafe: file name must not be empty")
	}
	if len(s) > 255 {
		return fmt.Errorf("horosafe: file name too long (max 255)")
	}
	if strings.Trim(s, ".") == "" {
		return fmt.Errorf("horosafe: file name %q is not allowed", s)
	}
	for _, r := range s {
		if !isNameChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in file name", r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrResponseTooLarge, maxBytes)
	}
	return data, nil
}

// Redact replaces every non-empty secret in s with "***".
func Redact(s string, secrets ...string) string {
	for _, sec := range secrets {
		if sec != "" {
			s = strings.ReplaceAll(s, sec, "***")
		}
	}
	return s
}

func isNameChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}
