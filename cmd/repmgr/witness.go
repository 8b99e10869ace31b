package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/repmgr-go/repmgr/internal/catalog"
	"github.com/repmgr-go/repmgr/internal/dbconn"
	"github.com/repmgr-go/repmgr/internal/register"
)

var witnessCmd = &cobra.Command{
	Use:   "witness",
	Short: "Operations on a witness node",
}

var witnessRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Add or update a witness node's row in the cluster metadata catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID := flagNodeID
		if nodeID == 0 {
			nodeID = cfg.NodeID
		}
		if nodeID == 0 {
			return fmt.Errorf("witness register requires --node-id")
		}

		gw, pool, err := openGateway(cmd.Context(), buildConnInfo(""))
		if err != nil {
			return err
		}
		defer pool.Close()

		primaryID, found, err := gw.GetPrimaryId(cmd.Context())
		if err != nil {
			return err
		}
		if !found && flagUpstreamID == 0 {
			return fmt.Errorf("no primary registered in catalog; pass --upstream-node-id explicitly")
		}
		upstreamID := flagUpstreamID
		if upstreamID == 0 {
			upstreamID = primaryID
		}

		rec := catalog.NodeRecord{
			NodeID:         nodeID,
			NodeName:       cfg.NodeName,
			Type:           catalog.Witness,
			UpstreamNodeID: upstreamID,
			ConnInfo:       buildConnInfo(""),
			ReplUser:       cfg.ReplUser,
			DataDirectory:  flagDataDir,
			Priority:       cfg.Priority,
			Location:       cfg.Location,
			Active:         true,
		}
		if rec.DataDirectory == "" {
			rec.DataDirectory = cfg.DataDirectory
		}

		var localConn dbconn.DbConn
		if !flagNoUpstream {
			localConn, err = dbconn.Open(cmd.Context(), rec.ConnInfo)
			if err != nil {
				return err
			}
			defer localConn.Close(cmd.Context())
		}

		registrar := register.Registrar{Gateway: gw, Logger: logger}
		opts := register.Options{Record: rec, Force: flagForce}
		if err := registrar.Register(cmd.Context(), opts, localConn, localConn); err != nil {
			return err
		}
		logger.Info().Int("node_id", nodeID).Msg("witness registered")
		return nil
	},
}

func init() {
	witnessCmd.AddCommand(witnessRegisterCmd)
	rootCmd.AddCommand(witnessCmd)
}
