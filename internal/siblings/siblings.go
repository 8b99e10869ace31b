// Package siblings implements Sibling Reconfiguration (spec §4.10):
// after a switchover, every other active standby (and witness) that was
// attached to the old primary is instructed, over SSH, to follow the new
// primary. Switchover's ATTACH_SIBLINGS state (spec §4.9) calls this
// with the set of nodes returned by the Catalog Gateway's
// GetActiveSiblings; standby promote does not call it.
package siblings

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/repmgr-go/repmgr/internal/catalog"
	"github.com/repmgr-go/repmgr/internal/connstring"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/repmgrd"
	"github.com/repmgr-go/repmgr/internal/sshtransport"
)

// Outcome is one sibling's result.
type Outcome struct {
	NodeID   int
	NodeName string
	Success  bool
	Detail   string
}

// Report aggregates every sibling's outcome. Siblings are processed in
// ascending node_id order (spec §5 "observable outputs ... identical to
// a sequential ordering by ascending node_id").
type Report struct {
	Outcomes []Outcome
}

// Failed reports whether any sibling failed to reconfigure.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.Success {
			out = append(out, o)
		}
	}
	return out
}

// Reconfigurer drives each sibling's remote `standby follow` or
// `witness register` invocation over SSH.
type Reconfigurer struct {
	Logger  zerolog.Logger
	SSHUser string
	SSHOpts sshtransport.Options
	Binary  string // remote tool binary, default "repmgr"
}

func (r Reconfigurer) binary() string {
	if r.Binary == "" {
		return "repmgr"
	}
	return r.Binary
}

// Reconfigure walks siblings in ascending node_id order (the Catalog
// Gateway already returns them this way) and, for each one whose host is
// reachable, runs the appropriate remote follow command pointing at
// newPrimary. A sibling whose host cannot be reached, or whose remote
// command exits non-zero, is recorded as a failed Outcome rather than
// aborting the whole pass.
func (r Reconfigurer) Reconfigure(ctx context.Context, newPrimary catalog.NodeRecord,
	siblings []catalog.NodeRecord, daemons map[int]repmgrd.Client, sshHosts map[int]string) Report {

	log := r.Logger.With().Str("component", "siblings").Logger()
	var report Report

	for _, sib := range siblings {
		host := sshHosts[sib.NodeID]
		outcome := Outcome{NodeID: sib.NodeID, NodeName: sib.NodeName}

		if host == "" {
			outcome.Detail = "no SSH host known for this node"
			report.Outcomes = append(report.Outcomes, outcome)
			log.Warn().Int("node_id", sib.NodeID).Msg(outcome.Detail)
			continue
		}

		if err := sshtransport.ProbeSsh(ctx, host, r.SSHUser, r.SSHOpts); err != nil {
			outcome.Detail = "unreachable: " + err.Error()
			report.Outcomes = append(report.Outcomes, outcome)
			log.Warn().Int("node_id", sib.NodeID).Err(err).Msg("sibling host unreachable")
			continue
		}

		var cmd string
		if sib.Type == catalog.Witness {
			if daemon, ok := daemons[sib.NodeID]; ok {
				if err := daemon.NotifyFollowPrimary(ctx, newPrimary.NodeID); err != nil {
					log.Warn().Int("node_id", sib.NodeID).Err(err).
						Msg("failed to notify witness daemon of new primary; proceeding with register anyway")
				}
			}
			cmd = r.witnessRegisterCommand(newPrimary)
		} else {
			cmd = r.standbyFollowCommand(newPrimary)
		}

		res, err := sshtransport.RunRemote(ctx, host, r.SSHUser, cmd, r.SSHOpts)
		switch {
		case err != nil:
			outcome.Detail = err.Error()
		case res.ExitCode != 0:
			outcome.Detail = fmt.Sprintf("remote command exited %d: %s", res.ExitCode, res.Stderr)
		default:
			outcome.Success = true
		}
		report.Outcomes = append(report.Outcomes, outcome)
		if !outcome.Success {
			log.Warn().Int("node_id", sib.NodeID).Str("detail", outcome.Detail).Msg("sibling reconfiguration failed")
		}
	}

	return report
}

func (r Reconfigurer) standbyFollowCommand(newPrimary catalog.NodeRecord) string {
	return r.binary() + " standby follow --upstream-node-id=" + itoa(newPrimary.NodeID)
}

func (r Reconfigurer) witnessRegisterCommand(newPrimary catalog.NodeRecord) string {
	params := connstring.New()
	parsed, err := connstring.Parse(newPrimary.ConnInfo)
	if err == nil {
		params = parsed
	}
	return r.binary() + " witness register -d '" + escapeSingleQuotes(params.Render()) + "' --force"
}

// DbConnFor is a convenience the caller can use before Reconfigure to
// ping each sibling's local database and decide whether to include it
// at all (spec §4.10 "for each reachable sibling").
func DbConnFor(ctx context.Context, rec catalog.NodeRecord) (dbconn.DbConn, error) {
	return dbconn.Open(ctx, rec.ConnInfo)
}

func escapeSingleQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
