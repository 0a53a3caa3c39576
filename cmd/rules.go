package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/CosmoTheDev/painscan/internal/rules"
)

var rulesOutputFmt string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the detection rules the pattern analyzer applies",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := rules.Default()
		if err != nil {
			return err
		}

		type row struct {
			ID         string   `json:"id"         yaml:"id"`
			Title      string   `json:"title"      yaml:"title"`
			Category   string   `json:"category"   yaml:"category"`
			Severity   string   `json:"severity"   yaml:"severity"`
			Effort     string   `json:"effort"     yaml:"effort"`
			Extensions []string `json:"extensions" yaml:"extensions"`
		}
		var rows []row
		for _, r := range catalog.Rules() {
			rows = append(rows, row{
				ID:         r.ID,
				Title:      r.Title,
				Category:   r.Category,
				Severity:   string(r.Severity),
				Effort:     string(r.Effort),
				Extensions: r.Extensions,
			})
		}

		switch rulesOutputFmt {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		case "yaml":
			enc := yaml.NewEncoder(os.Stdout)
			defer enc.Close()
			return enc.Encode(rows)
		case "table":
		default:
			return fmt.Errorf("invalid output format %q (valid: table, json, yaml)", rulesOutputFmt)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSEVERITY\tEFFORT\tCATEGORY\tFILES\tTITLE")
		for _, r := range rows {
			exts := strings.Join(r.Extensions, ",")
			if exts == "" {
				exts = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Severity, r.Effort, r.Category, exts, r.Title)
		}
		return tw.Flush()
	},
}

func init() {
	rulesCmd.Flags().StringVar(&rulesOutputFmt, "output", "table", "Output format: table|json|yaml")
}
