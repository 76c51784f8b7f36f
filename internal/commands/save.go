package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/service"
)

var (
	errNotConfirmable = errors.New("preview has blocking findings, nothing was saved")
	errAborted        = errors.New("aborted")
)

func newSaveCommand(opts *globalOptions, factory AppFactory) *cobra.Command {
	var (
		scope   scopeFlags
		upload  uploadFlags
		yes     bool
		exclude []string
	)

	cmd := &cobra.Command{
		Use:   "save <files...>",
		Short: "Preview documents and save them after confirmation",
		Long: `Runs the same preview as "payrollctl preview", prints it and, once confirmed,
saves every file of the batch. Each file is written in its own transaction, so a
failure on one file leaves the others saved.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildPreviewRequest(&scope, &upload, args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, factory, func(ctx context.Context, app *App) error {
				out := cmd.OutOrStdout()

				preview, err := app.Pipeline.Preview(ctx, req)
				if err != nil {
					return err
				}
				printPreview(out, preview)
				if preview.Token == "" {
					return errors.New("no file could be previewed")
				}
				if blocked := blockedFiles(preview, exclude); len(blocked) > 0 {
					return fmt.Errorf("%w; leave them out with --exclude %s", errNotConfirmable, strings.Join(blocked, ","))
				}

				if !yes {
					ok, err := confirmPrompt(cmd.InOrStdin(), out)
					if err != nil {
						return err
					}
					if !ok {
						return errAborted
					}
				}

				result, err := app.Pipeline.Confirm(ctx, service.ConfirmRequest{
					Token:   preview.Token,
					Exclude: exclude,
				})
				if err != nil {
					return err
				}
				printSaveResult(out, result)

				switch result.Status {
				case service.StatusFailed, service.StatusPartial:
					return fmt.Errorf("batch finished with status %s", result.Status)
				}
				return nil
			})
		},
	}

	scope.register(cmd)
	upload.register(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "save without asking for confirmation")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "content hashes of files to leave out of the save")

	return cmd
}

// blockedFiles returns the content hashes that still block the save once the
// excluded files are left out.
func blockedFiles(preview *service.BatchPreviewResult, exclude []string) []string {
	if preview.Confirmable || preview.Session == nil {
		return nil
	}
	var blocked []string
	for _, f := range preview.Session.Files {
		if f.Blocked() && !slices.Contains(exclude, f.ContentHash) {
			blocked = append(blocked, f.ContentHash)
		}
	}
	return blocked
}

func confirmPrompt(in io.Reader, out io.Writer) (bool, error) {
	fmt.Fprint(out, "Save these files? [y/N] ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func printSaveResult(w io.Writer, result *service.BatchSaveResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tOUTCOME\tDETAIL")
	for _, f := range result.Files {
		detail := f.StoragePath
		if f.Error != "" {
			detail = f.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.FileName, f.Outcome, detail)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nstatus: %s\n", result.Status)
}
