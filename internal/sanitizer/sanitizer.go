// Package sanitizer strips markup from free-form user input before it is
// stored or echoed back (names, device descriptions, audit details).
package sanitizer

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer removes all HTML from input strings
type Sanitizer struct {
	policy *bluemonday.Policy
}

// New creates a Sanitizer with a strict no-markup policy
func New() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean strips markup and trims surrounding whitespace
func (s *Sanitizer) Clean(input string) string {
	return strings.TrimSpace(s.policy.Sanitize(input))
}

// CleanTruncated strips markup and caps the result length. Used for fields
// with column limits such as user agents and device ids.
func (s *Sanitizer) CleanTruncated(input string, max int) string {
	cleaned := s.Clean(input)
	if max > 0 && len(cleaned) > max {
		cleaned = cleaned[:max]
	}
	return cleaned
}
