package clone

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/repmgr-go/repmgr/internal/catalog"
	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// runDirect invokes the database's base-backup utility directly against
// the upstream (spec §4.5 steps 7-9). The command line is built once and
// any non-zero exit is treated as fatal, matching the teacher's own
// "treat pg_dump's ExitError specially" idiom in internal/schema.
func runDirect(ctx context.Context, log zerolog.Logger, opts Options, upstream catalog.NodeRecord, slotName string) error {
	args := []string{
		"--pgdata=" + opts.DataDirectory,
		"--dbname=" + upstream.ConnInfo,
		"--wal-method=stream",
		"--write-recovery-conf=no",
		"--no-password",
	}
	if opts.FastCheckpoint {
		args = append(args, "--checkpoint=fast")
	}
	if slotName != "" {
		args = append(args, "--slot="+slotName, "--create-slot=no")
	}
	for oldLoc, newLoc := range opts.TablespaceMapping {
		args = append(args, "--tablespace-mapping="+oldLoc+"="+newLoc)
	}

	log.Info().Strs("args", args).Msg("invoking pg_basebackup")

	if opts.DryRun {
		log.Info().Msg("dry run: pg_basebackup not executed")
	} else {
		cmd := exec.CommandContext(ctx, "pg_basebackup", args...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return rmerrors.New(rmerrors.KindBackup, "pg_basebackup failed").
					WithDetail(string(out)).WithHint("exit status " + exitErr.Error())
			}
			return rmerrors.Wrap(rmerrors.KindBackup, "run pg_basebackup", err)
		}
		log.Debug().Str("output", string(out)).Msg("pg_basebackup completed")
	}

	if err := copyExternalConfigFiles(ctx, opts); err != nil {
		return err
	}

	return nil
}

// copyExternalConfigFiles copies any configuration files that live
// outside the data directory to their final destination (spec §4.5
// step 9). It runs only the local copy: neither this function nor Run
// probes SSH to the upstream host or pre-checks file permissions there
// (step 5).
func copyExternalConfigFiles(ctx context.Context, opts Options) error {
	if len(opts.ExternalConfigFiles) == 0 {
		return nil
	}
	if opts.DryRun {
		return nil
	}
	for _, src := range opts.ExternalConfigFiles {
		dst := filepath.Join(opts.DataDirectory, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return rmerrors.Wrap(rmerrors.KindBackup, "copy external config file "+src, err)
		}
	}
	return nil
}

// copyFile copies src to dst, preserving the source file's mode.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode())
}
