package nodecheck

import (
	"context"
	"strconv"
	"strings"

	"github.com/repmgr-go/repmgr/internal/rmerrors"
	"github.com/repmgr-go/repmgr/internal/sshtransport"
)

// Client invokes the Node-Check Protocol against a remote peer by
// running the peer's own binary over SSH and parsing its single-line
// "--key=value" response (spec §4.3). The remote command line reuses
// the same option grammar as the local CLI, so building it is just
// string concatenation of already-validated flags.
type Client struct {
	Host   string
	User   string
	Binary string // path to the remote repmgr binary, default "repmgr"
	Opts   sshtransport.Options
}

func (c Client) binary() string {
	if c.Binary == "" {
		return "repmgr"
	}
	return c.Binary
}

func (c Client) run(ctx context.Context, args ...string) (string, error) {
	cmd := c.binary() + " " + strings.Join(args, " ")
	res, err := sshtransport.RunRemote(ctx, c.Host, c.User, cmd, c.Opts)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", rmerrors.New(rmerrors.KindTransport, "remote node-check returned non-zero exit").
			WithDetail(strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// IsShutdownCleanly runs "node status --is-shutdown-cleanly" remotely.
func (c Client) IsShutdownCleanly(ctx context.Context) (ShutdownReport, error) {
	out, err := c.run(ctx, "node", "status", "--is-shutdown-cleanly")
	if err != nil {
		return ShutdownReport{State: StateUnknown}, err
	}
	return ParseShutdownReport(out), nil
}

// ArchiveReady runs "node check --archive-ready --optformat" remotely.
func (c Client) ArchiveReady(ctx context.Context) (ArchiveReport, error) {
	out, err := c.run(ctx, "node", "check", "--archive-ready", "--optformat")
	if err != nil {
		return ArchiveReport{Status: StatusUnknown}, err
	}
	return ParseArchiveReport(out), nil
}

// ReplicationConnection runs "node check --replication-connection
// --remote-node-id=<id>" remotely, verifying that the peer can itself
// open a replication connection to remoteNodeID.
func (c Client) ReplicationConnection(ctx context.Context, remoteNodeID int) (ConnectionReport, error) {
	out, err := c.run(ctx, "node", "check", "--replication-connection",
		"--remote-node-id="+strconv.Itoa(remoteNodeID))
	if err != nil {
		return ConnectionReport{Key: "connection", Status: StatusUnknown}, err
	}
	return ParseConnectionReport(out, "connection"), nil
}

// DataDirectoryConfig runs "node check --data-directory-config" remotely.
func (c Client) DataDirectoryConfig(ctx context.Context) (ConnectionReport, error) {
	out, err := c.run(ctx, "node", "check", "--data-directory-config")
	if err != nil {
		return ConnectionReport{Key: "configured-data-directory", Status: StatusUnknown}, err
	}
	return ParseConnectionReport(out, "configured-data-directory"), nil
}

// ReplicationConfigOwner runs "node check --replication-config-owner" remotely.
func (c Client) ReplicationConfigOwner(ctx context.Context) (ConnectionReport, error) {
	out, err := c.run(ctx, "node", "check", "--replication-config-owner")
	if err != nil {
		return ConnectionReport{Key: "replication-config-owner", Status: StatusUnknown}, err
	}
	return ParseConnectionReport(out, "replication-config-owner"), nil
}

// DbConnection runs "node check --db-connection [--superuser=<u>]" remotely.
func (c Client) DbConnection(ctx context.Context, superuser string) (ConnectionReport, error) {
	args := []string{"node", "check", "--db-connection"}
	if superuser != "" {
		args = append(args, "--superuser="+superuser)
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return ConnectionReport{Key: "db-connection", Status: StatusUnknown}, err
	}
	return ParseConnectionReport(out, "db-connection"), nil
}
