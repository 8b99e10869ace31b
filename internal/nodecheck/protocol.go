// Package nodecheck implements the Node-Check Protocol (spec §4.3): the
// one inter-instance RPC in the system. A peer instance of the tool,
// invoked over SSH via internal/sshtransport, writes a single line of
// "--key=value" flags to stdout; the caller parses that line with this
// package rather than a general-purpose flag library, since the set of
// keys varies by report and unknown keys must be tolerated, not
// rejected.
package nodecheck

import (
	"strconv"
	"strings"
)

// Status is the tri-state (plus UNKNOWN) result most reports resolve to.
type Status string

const (
	StatusOK       Status = "OK"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
	StatusBad      Status = "BAD"
	StatusUnknown  Status = "UNKNOWN"
)

// ShutdownState mirrors catalog.ShutdownState's vocabulary, kept as its
// own string type here since the wire form is exactly these tokens.
type ShutdownState string

const (
	StateRunning         ShutdownState = "RUNNING"
	StateShutdown        ShutdownState = "SHUTDOWN"
	StateUncleanShutdown ShutdownState = "UNCLEAN_SHUTDOWN"
	StateShuttingDown    ShutdownState = "SHUTTING_DOWN"
	StateUnknown         ShutdownState = "UNKNOWN"
)

// CheckError is the --error= vocabulary for the archive-ready report.
type CheckError string

const (
	ErrorDbConnection   CheckError = "DB_CONNECTION"
	ErrorConninfoParse  CheckError = "CONNINFO_PARSE"
	ErrorUnknown        CheckError = "UNKNOWN"
)

// Line is a parsed "--key=value ..." report. Get returns "" for a
// missing key; Status returns StatusUnknown for a missing or empty key,
// since the zero value of Status is not meaningful on its own.
type Line map[string]string

// Parse tokenizes a single line of whitespace-separated "--key=value"
// (or bare "--key") flags. It is deliberately tolerant: unrecognized
// tokens are skipped rather than erroring, and an empty or blank line
// parses to an empty, valid Line — callers treat that as "UNKNOWN"
// across the board (spec §4.3 "Parsing is tolerant").
func Parse(line string) Line {
	out := Line{}
	for _, field := range strings.Fields(line) {
		if !strings.HasPrefix(field, "--") {
			continue
		}
		field = strings.TrimPrefix(field, "--")
		key, value, found := strings.Cut(field, "=")
		if !found {
			out[key] = ""
			continue
		}
		out[key] = value
	}
	return out
}

// Get returns the raw value for key, or "" if absent.
func (l Line) Get(key string) string {
	return l[key]
}

// Status returns the value of key as a Status, defaulting to
// StatusUnknown when the key is absent (spec §4.3 "missing keys yield
// status UNKNOWN").
func (l Line) Status(key string) Status {
	v, ok := l[key]
	if !ok || v == "" {
		return StatusUnknown
	}
	return Status(v)
}

// Render produces the wire form of a report: deterministic key order,
// "--key=value" tokens joined by single spaces, terminated by neither a
// leading nor trailing space. Keys map iteration order is not stable in
// Go, so reports are passed as ordered [2]string pairs rather than a
// bare map.
func Render(pairs ...[2]string) string {
	tokens := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p[1] == "" {
			tokens = append(tokens, "--"+p[0])
			continue
		}
		tokens = append(tokens, "--"+p[0]+"="+p[1])
	}
	return strings.Join(tokens, " ")
}

// ShutdownReport is the structured form of the "node status
// --is-shutdown-cleanly" response (spec §3 CheckpointRecord, §4.3).
type ShutdownReport struct {
	State             ShutdownState
	LastCheckpointLSN string
}

// ParseShutdownReport decodes a ShutdownReport wire line.
func ParseShutdownReport(line string) ShutdownReport {
	l := Parse(line)
	state := ShutdownState(l.Get("state"))
	if state == "" {
		state = StateUnknown
	}
	return ShutdownReport{State: state, LastCheckpointLSN: l.Get("last-checkpoint-lsn")}
}

// Render encodes a ShutdownReport back to its wire line.
func (r ShutdownReport) Render() string {
	return Render([2]string{"state", string(r.State)}, [2]string{"last-checkpoint-lsn", r.LastCheckpointLSN})
}

// ArchiveReport is the "node check --archive-ready" response.
type ArchiveReport struct {
	Status    Status
	Files     int
	Threshold int
	Error     CheckError
}

// ParseArchiveReport decodes an ArchiveReport wire line. Files and
// Threshold default to 0 when absent or unparsable, which is
// indistinguishable from a legitimate zero count — callers gate on
// Status, not on these counts alone.
func ParseArchiveReport(line string) ArchiveReport {
	l := Parse(line)
	return ArchiveReport{
		Status:    l.Status("status"),
		Files:     atoi(l.Get("files")),
		Threshold: atoi(l.Get("threshold")),
		Error:     CheckError(l.Get("error")),
	}
}

// Render encodes an ArchiveReport back to its wire line.
func (r ArchiveReport) Render() string {
	pairs := [][2]string{
		{"status", string(r.Status)},
		{"files", strconv.Itoa(r.Files)},
		{"threshold", strconv.Itoa(r.Threshold)},
	}
	if r.Error != "" {
		pairs = append(pairs, [2]string{"error", string(r.Error)})
	}
	return Render(pairs...)
}

// ConnectionReport is the response shape shared by
// --replication-connection, --data-directory-config,
// --replication-config-owner and --db-connection, which all emit a
// single named status key plus an optional --error=.
type ConnectionReport struct {
	Key    string
	Status Status
	Error  string
}

// ParseConnectionReport decodes a single named-status report, where key
// is the wire key that carries the status ("connection",
// "configured-data-directory", "replication-config-owner" or
// "db-connection").
func ParseConnectionReport(line, key string) ConnectionReport {
	l := Parse(line)
	return ConnectionReport{Key: key, Status: l.Status(key), Error: l.Get("error")}
}

// Render encodes a ConnectionReport back to its wire line.
func (r ConnectionReport) Render() string {
	pairs := [][2]string{{r.Key, string(r.Status)}}
	if r.Error != "" {
		pairs = append(pairs, [2]string{"error", r.Error})
	}
	return Render(pairs...)
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
