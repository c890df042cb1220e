// File: cmd/preview.go
package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/riskform-cli/internal/config"
	"github.com/xkilldash9x/riskform-cli/internal/observability"
	"github.com/xkilldash9x/riskform-cli/internal/sheet"
)

// newPreviewCmd parses the spreadsheet and prints what a fill would do,
// without starting a browser.
func newPreviewCmd(v *viper.Viper) *cobra.Command {
	var asJSON bool

	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the questions and weights read from the spreadsheet",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd, v, map[string]string{
				"file":           "sheet.path",
				"sheet":          "sheet.name",
				"invalid-weight": "sheet.invalid_weight",
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			if err := cfg.Sheet.Validate(); err != nil {
				return fmt.Errorf("sheet configuration invalid: %w", err)
			}

			res, err := readQuestions(cfg.Sheet)
			if err != nil {
				return err
			}
			if asJSON {
				enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return printPreview(cmd.OutOrStdout(), res)
		},
	}

	previewCmd.Flags().StringP("file", "f", "", "path to the .xlsx spreadsheet (env EXCEL_FILE)")
	previewCmd.Flags().String("sheet", "", "sheet name (default is the first sheet)")
	previewCmd.Flags().String("invalid-weight", "skip", "what to do with unusable weights: skip or default")
	previewCmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return previewCmd
}

// readQuestions reads the configured spreadsheet.
func readQuestions(cfg config.SheetConfig) (*sheet.Result, error) {
	opts, err := sheet.NewOptions(cfg)
	if err != nil {
		return nil, err
	}
	return sheet.NewReader(opts, observability.GetLogger()).ReadFile(cfg.Path)
}

func printPreview(w io.Writer, res *sheet.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ROW\tWEIGHT\tQUESTION\n")
	for _, q := range res.Questions {
		fmt.Fprintf(tw, "%d\t%d\t%s\n", q.Row, q.Weight, q.Text)
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(tw, "\nSKIPPED\tWEIGHT\tREASON\n")
		for _, s := range res.Skipped {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", s.Row, s.RawWeight, s.Reason)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nsheet %q: %d questions, %d skipped\n", res.Sheet, len(res.Questions), len(res.Skipped))
	return err
}
