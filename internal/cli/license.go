package cli

import (
	_ "embed"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

//go:embed license.txt
var licenseText string

var licenseCmd = &cobra.Command{
	Use:   "license",
	Short: "Print license information and bundled Go modules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		modules, _ := cmd.Flags().GetBool("modules")
		return writeLicense(cmd.OutOrStdout(), modules)
	},
}

func init() {
	licenseCmd.Flags().Bool("modules", false, "Also list the Go modules compiled into this binary")
	rootCmd.AddCommand(licenseCmd)
}

func writeLicense(w io.Writer, modules bool) error {
	if _, err := io.WriteString(w, licenseText); err != nil {
		return err
	}
	if !modules {
		return nil
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		_, err := fmt.Fprintln(w, "\nModule information is not available in this build.")
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s\n", renderModules(info.Deps))
	return err
}

// one row per module; replaced modules show the replacement path
func renderModules(deps []*debug.Module) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Module", "Version"})
	for _, dep := range deps {
		if dep.Replace != nil {
			dep = dep.Replace
		}
		t.AppendRow(table.Row{dep.Path, dep.Version})
	}
	return t.Render()
}
