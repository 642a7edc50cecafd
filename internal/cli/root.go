// Package cli implements the urlsentry command tree.
package cli

import (
	"github.com/spf13/cobra"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "urlsentry",
		Short:         "urlsentry: URL reputation lookup service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("urlsentry {{.Version}}\n")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckCmd())

	return cmd
}
