package tui

import "sync"

// Sink is an io.Writer log lines are multiplexed into alongside the
// normal console/JSON writer, the same role metrics.NewLogWriter played
// in the teacher's clone.go: zerolog.MultiLevelWriter fans out to both
// the ordinary writer and this one, and the running dashboard polls it.
type Sink struct {
	mu    sync.Mutex
	lines []string
}

// NewSink returns an empty Sink.
func NewSink() *Sink { return &Sink{} }

// Write implements io.Writer, appending p as one log line.
// zerolog.MultiLevelWriter hands each event to the sink in one Write
// call (the raw JSON line; console formatting applies only to the
// primary writer), so no further splitting is needed.
func (s *Sink) Write(p []byte) (int, error) {
	line := string(p)
	s.mu.Lock()
	s.lines = append(s.lines, line)
	if len(s.lines) > 200 {
		s.lines = s.lines[len(s.lines)-200:]
	}
	s.mu.Unlock()
	return len(p), nil
}

// Lines returns a snapshot of the most recent log lines.
func (s *Sink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}
