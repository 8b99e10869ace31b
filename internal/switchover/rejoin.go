package switchover

import (
	"context"
	"strings"

	"github.com/repmgr-go/repmgr/internal/rmerrors"
	"github.com/repmgr-go/repmgr/internal/sshtransport"
)

// rejoin is spec §4.9's REJOIN state: tell the former primary's host,
// over SSH, to rejoin the cluster as a standby of the newly promoted
// node. The remote side writes its own recovery config, optionally
// rewinds, and restarts; this step does not wait for that to finish —
// VERIFY is what confirms attachment afterwards.
func (r *run) rejoin(ctx context.Context) error {
	cmd := r.remoteBinary() + " node rejoin -d '" + escapeSingleQuotes(r.opts.LocalConnInfo) + "'"

	if r.opts.ForceRewind {
		cmd += " --force-rewind"
		if r.opts.RewindPath != "" {
			cmd += "=" + r.opts.RewindPath
		}
		if len(r.opts.ConfigFiles) > 0 {
			cmd += " --config-files=" + strings.Join(r.opts.ConfigFiles, ",")
		}
	}

	res, err := sshtransport.RunRemote(ctx, r.opts.PrimaryHost, r.opts.PrimarySSHUser, cmd, r.opts.SSHOpts)
	if err != nil {
		return rmerrors.Wrap(rmerrors.KindTransport, "dispatch rejoin over SSH", err)
	}
	if res.ExitCode != 0 {
		return rmerrors.New(rmerrors.KindTransport, "rejoin command exited non-zero").WithDetail(res.Stderr)
	}
	return nil
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
