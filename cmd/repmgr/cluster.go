package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/repmgr-go/repmgr/internal/catalog"
	"github.com/repmgr-go/repmgr/internal/dbconn"
)

// cluster is SPEC_FULL.md §3's supplemented read-only report: an
// operator needs *some* way to see cluster state before running any of
// the five core standby operations, and every field it prints already
// comes straight off the Catalog Gateway (spec §4.2).
var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Inspect cluster-wide state",
}

var clusterShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List every registered node's type, upstream, active flag, and (when reachable) recovery status",
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, pool, err := openGateway(cmd.Context(), buildConnInfo(""))
		if err != nil {
			return err
		}
		defer pool.Close()

		nodes, err := gw.GetAllNodes(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tUPSTREAM\tACTIVE\tSTATUS")
		for _, n := range nodes {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%t\t%s\n",
				n.NodeID, n.NodeName, n.Type, n.UpstreamNodeID, n.Active, recoveryStatus(cmd.Context(), n))
		}
		return w.Flush()
	},
}

// recoveryStatus best-effort reports a node's live recovery state; an
// unreachable node (expected for a standby whose database is down) is
// reported as "unreachable" rather than failing the whole listing,
// since spec §4.2 GetRecoveryType already treats this as a distinct
// UNKNOWN-style outcome elsewhere in the engine.
func recoveryStatus(ctx context.Context, n catalog.NodeRecord) string {
	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	conn, err := dbconn.Open(connCtx, n.ConnInfo)
	if err != nil {
		return "unreachable"
	}
	defer conn.Close(ctx)
	role, err := catalog.GetRecoveryType(ctx, conn)
	if err != nil {
		return "unreachable"
	}
	return string(role)
}

func init() {
	clusterCmd.AddCommand(clusterShowCmd)
	rootCmd.AddCommand(clusterCmd)
}
