// Package extract implements the delimiter protocol that locates
// generated code inside free-text model output.
package extract

import (
	"fmt"
	"strings"

	"github.com/ashureev/supercoder/internal/domain"
)

// Delimiter is the literal token the generation service is instructed
// to wrap code with. It must occur at least twice in a well-formed
// response.
const Delimiter = "@@D"

// previewLimit bounds how much of a malformed response is quoted in
// the extraction diagnostic.
const previewLimit = 500

// Extract returns the code segment between the first and second
// delimiter occurrence, with surrounding whitespace trimmed.
//
// Splitting on the delimiter must yield at least three segments
// (text-before, code, text-after). Anything less is a retryable
// extraction failure whose diagnostic quotes the start of the raw
// response so the next feedback request can condition on it.
func Extract(rawResponse string) (string, error) {
	parts := strings.Split(rawResponse, Delimiter)
	if len(parts) < 3 {
		return "", domain.RetryableError(domain.FailureExtraction,
			fmt.Errorf("response did not wrap code with %s; got:\n%s", Delimiter, preview(rawResponse)))
	}
	return strings.TrimSpace(parts[1]), nil
}

func preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit]
}
