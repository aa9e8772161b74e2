package cli

import (
	"github.com/spf13/cobra"

	"github.com/carved4/go-pluginmeta/pkg/descriptor"
	"github.com/carved4/go-pluginmeta/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("pluginmeta version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
			cmd.Printf("Record version: %d\n", descriptor.CurrentVersion)
		},
	}
}
