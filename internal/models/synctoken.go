package models

import (
	"fmt"
	"regexp"
	"time"
)

// Sync tokens combine a microsecond timestamp and a change sequence into a
// single string that orders lexically: <16 hex chars>-<hex sequence>.

var syncTokenRe = regexp.MustCompile(`^[0-9a-f]{16}-[0-9a-f]+$`)

// FormatSyncToken encodes a lastmod timestamp and sequence.
func FormatSyncToken(lastmod time.Time, sequence int) string {
	return fmt.Sprintf("%016x-%x", lastmod.UTC().UnixMicro(), sequence)
}

// ValidSyncToken reports whether s parses as a sync token.
func ValidSyncToken(s string) bool {
	return syncTokenRe.MatchString(s)
}

// SyncTokenNewer reports whether a is strictly newer than b. The fixed-width
// timestamp prefix makes plain string comparison correct across timestamps;
// within one timestamp the sequence comparison falls back to length-then-value
// so a multi-digit sequence never compares below a shorter one.
func SyncTokenNewer(a, b string) bool {
	if len(a) == len(b) {
		return a > b
	}
	const tsLen = 16
	if len(a) > tsLen && len(b) > tsLen && a[:tsLen] == b[:tsLen] {
		return len(a) > len(b)
	}
	return a > b
}
