package main

import "github.com/spf13/cobra"

var standbyCmd = &cobra.Command{
	Use:   "standby",
	Short: "Operations on a standby node",
}

func init() {
	rootCmd.AddCommand(standbyCmd)
}
