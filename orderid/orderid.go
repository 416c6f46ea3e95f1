// Package orderid builds and parses the deterministic client order identifiers
// the execution core hands to the order gateway.
package orderid

import (
	"strconv"
	"strings"
)

// Delim separates the three components of a client order id. intent ids must
// never contain this byte (intent.Validate rejects any that do).
const Delim = "#"

// invalidSliceIndex is the sentinel returned by SliceIndex when a foreign or
// malformed id is parsed. Foreign gateway ids must be tolerated, not rejected.
const invalidSliceIndex = -1

// Build constructs the deterministic client_order_id for (intentID, sliceIndex,
// retryCount). Two runs with identical inputs produce byte-identical ids (M7).
func Build(intentID string, sliceIndex, retryCount int) string {
	var b strings.Builder
	b.Grow(len(intentID) + 24)
	b.WriteString(intentID)
	b.WriteString(Delim)
	b.WriteString(strconv.Itoa(sliceIndex))
	b.WriteString(Delim)
	b.WriteString(strconv.Itoa(retryCount))
	return b.String()
}

// Parsed holds the three components recovered from a client order id.
type Parsed struct {
	IntentID   string
	SliceIndex int
	RetryCount int
}

// Parse reverses Build. It returns ok=false for any id not produced by Build,
// including ids from foreign systems forwarded through the gateway.
func Parse(clientOrderID string) (Parsed, bool) {
	parts := strings.Split(clientOrderID, Delim)
	if len(parts) != 3 {
		return Parsed{}, false
	}
	sliceIndex, err := strconv.Atoi(parts[1])
	if err != nil {
		return Parsed{}, false
	}
	retryCount, err := strconv.Atoi(parts[2])
	if err != nil {
		return Parsed{}, false
	}
	if parts[0] == "" {
		return Parsed{}, false
	}
	return Parsed{IntentID: parts[0], SliceIndex: sliceIndex, RetryCount: retryCount}, true
}

// SliceIndex extracts the slice_index component of clientOrderID, returning
// the sentinel -1 for anything that doesn't parse instead of raising an error.
// Mirrors the source's _get_slice_index_from_order_id tolerance for foreign ids.
func SliceIndex(clientOrderID string) int {
	parsed, ok := Parse(clientOrderID)
	if !ok {
		return invalidSliceIndex
	}
	return parsed.SliceIndex
}

// RetryCount extracts the retry_count component, or the sentinel -1.
func RetryCount(clientOrderID string) int {
	parsed, ok := Parse(clientOrderID)
	if !ok {
		return invalidSliceIndex
	}
	return parsed.RetryCount
}

// ContainsDelim reports whether s would corrupt id parsing if used as an
// intent id component.
func ContainsDelim(s string) bool {
	return strings.Contains(s, Delim)
}
