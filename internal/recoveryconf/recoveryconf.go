// Package recoveryconf is the Recovery-Config Writer (spec §4.4): given
// a NodeRecord and an upstream connection string, it produces the
// parameters a database needs to start as a standby, rendered either as
// a pre-12 recovery.conf file or a post-12 postgresql.auto.conf merge
// plus standby.signal, matching the version split already centralised
// in internal/dbconn's Features table.
package recoveryconf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/repmgr-go/repmgr/internal/connstring"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// Params are the standby-recovery settings the writer renders, sourced
// from the node's NodeRecord plus whatever the caller wants overridden
// per spec §4.4's parameter list.
type Params struct {
	NodeName              string
	UpstreamConnInfo      string
	IncludePassword       bool
	SlotName              string // empty if slots disabled
	MinApplyDelaySeconds  int    // 0 means omit
	RestoreCommand        string
	ArchiveCleanupCommand string
	PassFile              string
}

// Plan is the buffered result of Render: the file(s) that would be
// written, with their target paths and contents, before anything
// touches disk — Write applies it, dry-run callers just display it
// (spec §4.4 "In dry-run, the file contents are produced in a buffer
// and shown but not written").
type Plan struct {
	// Path is the file that carries the standby parameters:
	// recovery.conf pre-12, postgresql.auto.conf (appended) >= 12.
	Path     string
	Contents string
	// SignalFile is non-empty only for >= 12, naming standby.signal.
	SignalFile string
	Mode       os.FileMode
}

// Render builds the Plan for dataDirectory, given the server's Features
// (from dbconn.For) and the standby Params. It performs no I/O.
func Render(dataDirectory string, feat dbconn.Features, p Params) (Plan, error) {
	if p.NodeName == "" {
		return Plan{}, rmerrors.New(rmerrors.KindConfig, "recovery config requires a node name for application_name")
	}

	conninfo, err := primaryConnInfo(p)
	if err != nil {
		return Plan{}, err
	}

	lines := []string{
		fmt.Sprintf("primary_conninfo = %s", quote(conninfo)),
	}
	if p.SlotName != "" {
		lines = append(lines, fmt.Sprintf("primary_slot_name = %s", quote(p.SlotName)))
	}
	lines = append(lines, "recovery_target_timeline = 'latest'")
	if p.MinApplyDelaySeconds > 0 {
		lines = append(lines, fmt.Sprintf("recovery_min_apply_delay = '%ds'", p.MinApplyDelaySeconds))
	}
	if p.RestoreCommand != "" {
		lines = append(lines, fmt.Sprintf("restore_command = %s", quote(p.RestoreCommand)))
	}
	if p.ArchiveCleanupCommand != "" {
		lines = append(lines, fmt.Sprintf("archive_cleanup_command = %s", quote(p.ArchiveCleanupCommand)))
	}

	if feat.UsesRecoveryConf {
		lines = append([]string{"standby_mode = 'on'"}, lines...)
		contents := ""
		for _, l := range lines {
			contents += l + "\n"
		}
		return Plan{
			Path:     filepath.Join(dataDirectory, "recovery.conf"),
			Contents: contents,
			Mode:     0600,
		}, nil
	}

	contents := "\n# added by repmgr standby clone/follow\n"
	for _, l := range lines {
		contents += l + "\n"
	}
	return Plan{
		Path:       filepath.Join(dataDirectory, "postgresql.auto.conf"),
		Contents:   contents,
		SignalFile: filepath.Join(dataDirectory, "standby.signal"),
		Mode:       0600,
	}, nil
}

// primaryConnInfo renders the upstream connection string with
// application_name forced to the node's own name, dbname/replication/
// blank values stripped, password included only when requested, and an
// optional passfile appended (spec §4.4).
func primaryConnInfo(p Params) (string, error) {
	params, err := connstring.Parse(p.UpstreamConnInfo)
	if err != nil {
		return "", rmerrors.Wrap(rmerrors.KindConfig, "parse upstream conninfo", err)
	}

	params.Set("application_name", p.NodeName)
	params.Delete("dbname")
	params.Delete("replication")

	if !p.IncludePassword {
		params.Delete("password")
	}
	if p.PassFile != "" {
		params.Set("passfile", p.PassFile)
	}

	for _, k := range params.Keys() {
		if v, _ := params.Get(k); v == "" {
			params.Delete(k)
		}
	}

	return params.Render(), nil
}

func quote(v string) string {
	out := "'"
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '\'', '\\':
			out += "\\"
		}
		out += string(v[i])
	}
	return out + "'"
}

// Write applies a Plan to disk. If the target file already exists and
// force is false, it refuses (spec §4.4 "overwriting an existing file
// is guarded by a force flag; otherwise refused").
func Write(plan Plan, force bool) error {
	if !force {
		if _, err := os.Stat(plan.Path); err == nil {
			return rmerrors.New(rmerrors.KindConfig,
				fmt.Sprintf("%s already exists (use --force to overwrite)", plan.Path))
		}
	}
	if plan.SignalFile != "" {
		// >= 12: postgresql.auto.conf already exists (pg_basebackup
		// leaves one in place with its own settings), so the standby
		// parameters are merged in by appending rather than truncating.
		f, err := os.OpenFile(plan.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, plan.Mode)
		if err != nil {
			return rmerrors.Wrap(rmerrors.KindConfig, "open "+plan.Path, err)
		}
		_, werr := f.WriteString(plan.Contents)
		cerr := f.Close()
		if werr != nil {
			return rmerrors.Wrap(rmerrors.KindConfig, "write "+plan.Path, werr)
		}
		if cerr != nil {
			return rmerrors.Wrap(rmerrors.KindConfig, "write "+plan.Path, cerr)
		}
	} else if err := os.WriteFile(plan.Path, []byte(plan.Contents), plan.Mode); err != nil {
		return rmerrors.Wrap(rmerrors.KindConfig, "write "+plan.Path, err)
	}
	if plan.SignalFile != "" {
		if err := os.WriteFile(plan.SignalFile, nil, plan.Mode); err != nil {
			return rmerrors.Wrap(rmerrors.KindConfig, "write "+plan.SignalFile, err)
		}
	}
	return nil
}
