package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/repmgr-go/repmgr/internal/register"
)

var standbyUnregisterCmd = &cobra.Command{
	Use:   "unregister",
	Short: "Remove a standby's row from the cluster metadata catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID := flagNodeID
		if nodeID == 0 {
			nodeID = cfg.NodeID
		}
		if nodeID == 0 {
			return fmt.Errorf("standby unregister requires --node-id")
		}

		gw, pool, err := openGateway(cmd.Context(), buildConnInfo(""))
		if err != nil {
			return err
		}
		defer pool.Close()

		registrar := register.Registrar{Gateway: gw, Logger: logger}
		if err := registrar.Unregister(cmd.Context(), nodeID); err != nil {
			return err
		}
		logger.Info().Int("node_id", nodeID).Msg("standby unregistered")
		return nil
	},
}

func init() {
	standbyCmd.AddCommand(standbyUnregisterCmd)
}
