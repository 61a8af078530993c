package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-forms/pkg/forms"
)

func formsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forms",
		Short: "Inspect form definitions",
	}
	cmd.AddCommand(formsValidateCmd())
	return cmd
}

func formsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Load and validate a form file or directory",
		Long: `Load every form definition under path and report the first error found.
Without an argument the path comes from VAI_FORMS_FORMS_PATH, or ./forms.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := os.Getenv("VAI_FORMS_FORMS_PATH")
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = "forms"
			}

			registry, err := forms.LoadPath(path)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tFIELDS\tCALLBACK")
			for _, id := range registry.IDs() {
				f, err := registry.Form(context.Background(), id)
				if err != nil {
					return err
				}
				callback := f.Callback.URL
				if callback == "" {
					callback = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", f.ID, f.Name, len(f.Fields), callback)
			}
			return tw.Flush()
		},
	}
}
