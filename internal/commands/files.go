package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newFilesCommand(opts *globalOptions, factory AppFactory) *cobra.Command {
	var (
		scope  scopeFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "files",
		Short: "List the documents saved for an institution and period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			institutionID, period, err := scope.parse()
			if err != nil {
				return err
			}
			return withApp(cmd, opts, factory, func(ctx context.Context, app *App) error {
				files, err := app.Pipeline.ListFiles(ctx, institutionID, period)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, files)
				}
				if len(files) == 0 {
					fmt.Fprintf(out, "no files saved for %s\n", period)
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "FILE\tCLASS\tSIZE\tSAVED\tHASH")
				for _, f := range files {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.12s\n",
						f.FileName, f.Classification, f.SizeBytes, f.CreatedAt.Format(time.DateTime), f.ContentHash)
				}
				return tw.Flush()
			})
		},
	}

	scope.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print files as JSON")

	return cmd
}
