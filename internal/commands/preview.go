package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/normalizer"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/service"
)

func newPreviewCommand(opts *globalOptions, factory AppFactory) *cobra.Command {
	var (
		scope  scopeFlags
		upload uploadFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "preview <files...>",
		Short: "Extract and reconcile documents without saving them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildPreviewRequest(&scope, &upload, args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, factory, func(ctx context.Context, app *App) error {
				result, err := app.Pipeline.Preview(ctx, req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), result)
				}
				printPreview(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}

	scope.register(cmd)
	upload.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full preview as JSON")

	return cmd
}

func buildPreviewRequest(scope *scopeFlags, upload *uploadFlags, paths []string) (service.PreviewRequest, error) {
	institutionID, period, err := scope.parse()
	if err != nil {
		return service.PreviewRequest{}, err
	}
	files, err := upload.readFiles(paths)
	if err != nil {
		return service.PreviewRequest{}, err
	}
	return service.PreviewRequest{
		InstitutionID: institutionID,
		Period:        period,
		AllowOCR:      upload.allowOCR,
		Files:         files,
	}, nil
}

func printPreview(w io.Writer, result *service.BatchPreviewResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if result.Session != nil {
		fmt.Fprintln(tw, "FILE\tCLASS\tTOTAL\tSEVERITY\tFINDING")
		for _, f := range result.Session.Files {
			total := documentTotal(f.Document)
			if len(f.Discrepancies) == 0 {
				fmt.Fprintf(tw, "%s\t%s\t%s\t-\tok\n", f.FileName, f.Classification, total)
				continue
			}
			for _, d := range f.Discrepancies {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s: %s\n", f.FileName, f.Classification, total, d.Severity, d.Kind, d.Message)
			}
		}
	}
	for _, f := range result.Failures {
		fmt.Fprintf(tw, "%s\t-\t-\tfailed\t%s/%s: %s\n", f.FileName, f.Kind, f.Reason, f.Message)
	}
	tw.Flush()

	if result.Token == "" {
		fmt.Fprintln(w, "nothing could be previewed")
		return
	}
	fmt.Fprintf(w, "\nconfirmable: %v\n", result.Confirmable)
}

// documentTotal is the declared amount of a previewed document, in Argentine
// notation since that is how the source documents print it.
func documentTotal(doc model.Document) string {
	result, err := doc.Result()
	if err != nil {
		return "-"
	}
	switch r := result.(type) {
	case *model.AportesListing:
		return normalizer.FormatLocale(r.Totals.TotalAmount, normalizer.LocaleAR)
	case *model.TransferReceipt:
		return transferAmount(r.Transfer)
	case *model.MultiTransferReceipt:
		var sum decimal.Decimal
		for _, t := range r.Transfers {
			if !t.Transfer.Amount.Valid {
				return "?"
			}
			sum = sum.Add(t.Transfer.Amount.Decimal)
		}
		return normalizer.FormatLocale(sum, normalizer.LocaleAR)
	}
	return "-"
}

func transferAmount(t model.Transfer) string {
	if !t.Amount.Valid {
		return "?"
	}
	return normalizer.FormatLocale(t.Amount.Decimal, normalizer.LocaleAR)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
