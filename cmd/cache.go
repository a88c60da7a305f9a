package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the page cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired cached pages",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.DeleteExpiredPages(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "cache prune")
		}
		zap.L().Info("cache: pruned expired pages", zap.Int("deleted", n))
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d expired pages.\n", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}
