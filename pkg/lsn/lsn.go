// Package lsn provides helpers over Postgres write-ahead-log positions.
//
// repmgr-go reuses pglogrepl.LSN as its canonical LSN type rather than
// inventing a parallel one: it is already a monotonic uint64 with the
// standard "XXXXXXXX/XXXXXXXX" String/Parse behaviour every node in the
// cluster speaks on the wire.
package lsn

import (
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
)

// Zero is the sentinel "no LSN known yet" value.
const Zero = pglogrepl.LSN(0)

// Parse parses a "XXXXXXXX/XXXXXXXX" LSN string. An empty string parses
// to Zero rather than erroring, since many call sites treat "no value
// reported yet" as a valid, unconcerning state.
func Parse(s string) (pglogrepl.LSN, error) {
	if s == "" {
		return Zero, nil
	}
	return pglogrepl.ParseLSN(s)
}

// GTE reports whether a has reached or passed b — the gate used by the
// switchover state machine's WAIT_WAL_FLUSH step: local receive LSN must
// be >= the primary's last checkpoint LSN before promotion proceeds.
func GTE(a, b pglogrepl.LSN) bool {
	return a >= b
}

// Lag calculates the byte distance between two LSN positions.
func Lag(current, latest pglogrepl.LSN) uint64 {
	if latest <= current {
		return 0
	}
	return uint64(latest - current)
}

// FormatLag returns a human-friendly representation of replication lag.
func FormatLag(bytes uint64, latency time.Duration) string {
	var size string
	switch {
	case bytes >= 1<<30:
		size = fmt.Sprintf("%.2f GB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		size = fmt.Sprintf("%.2f MB", float64(bytes)/float64(1<<20))
	case bytes >= 1<<10:
		size = fmt.Sprintf("%.2f KB", float64(bytes)/float64(1<<10))
	default:
		size = fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%s (latency: %s)", size, latency.Truncate(time.Millisecond))
}
