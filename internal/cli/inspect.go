package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carved4/go-pluginmeta/pkg/plugin"
	"github.com/carved4/go-pluginmeta/pkg/report"
)

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Show the metadata record and image layout of one module",
		Example: `  pluginmeta inspect ./plugins/loader.dll
  pluginmeta inspect -o json ./plugins/loader.dll`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := a.cfg.PluginOptions()
			opts.Logger = a.logger
			d, err := plugin.LoadWithOptions(args[0], opts)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := d.Close(); cerr != nil {
					a.logger.Warn().Err(cerr).Msg("failed to release image buffer")
				}
			}()

			detail, err := report.NewDetail(d)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return a.writer(cmd).Detail(detail)
		},
	}
}
