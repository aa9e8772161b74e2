package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carved4/go-pluginmeta/pkg/scan"
)

func newScanCmd(a *app) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "scan <path>...",
		Short: "Find plugin modules under directories",
		Long: `Scan walks each directory for files with a matching extension and reads
every candidate independently. Files given directly are always inspected.
Modules without a metadata record or with a newer record layout are reported,
not treated as failures.`,
		Example: `  pluginmeta scan ./plugins
  pluginmeta scan --ext .dll --ext .plugin --workers 8 ./a ./b
  pluginmeta scan --strict -o yaml ./plugins`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := a.cfg.Scan
			opts := a.cfg.PluginOptions()
			opts.Logger = a.logger
			s := &scan.Scanner{
				Options:        opts,
				Extensions:     sc.Extensions,
				Workers:        sc.Workers,
				Recursive:      sc.Recursive,
				FollowSymlinks: sc.FollowSymlinks,
				Dedupe:         sc.Dedupe,
				Logger:         a.logger,
			}

			results, err := s.Scan(cmd.Context(), args...)
			if err != nil {
				return err
			}
			if err := a.writer(cmd).Results(results); err != nil {
				return err
			}

			if strict {
				counts := scan.Summarize(results)
				if n := counts[scan.StatusBroken] + counts[scan.StatusError]; n > 0 {
					return fmt.Errorf("%d of %d candidates could not be read", n, len(results))
				}
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringSlice("ext", nil, "file extensions to consider while walking (default .dll)")
	flags.Int("workers", 0, "number of files inspected concurrently")
	flags.Bool("recursive", true, "descend into subdirectories")
	flags.Bool("follow-symlinks", false, "inspect files reached through symbolic links")
	flags.Bool("dedupe", true, "mark plugins whose bytes match an earlier result")
	flags.BoolVar(&strict, "strict", false, "exit non-zero when a candidate is broken or unreadable")
	a.bind("scan.extensions", flags.Lookup("ext"))
	a.bind("scan.workers", flags.Lookup("workers"))
	a.bind("scan.recursive", flags.Lookup("recursive"))
	a.bind("scan.follow_symlinks", flags.Lookup("follow-symlinks"))
	a.bind("scan.dedupe", flags.Lookup("dedupe"))

	return cmd
}
