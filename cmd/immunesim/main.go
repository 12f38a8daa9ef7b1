// Command immunesim runs the immune label-field simulation.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/talgya/macro-immunet/internal/labels"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "immunesim",
		Short: "Tick-based immune signalling field simulation",
		Long: `immunesim drives a decaying spatial label field with cytokine secretors,
antigen-sampling dendritic cells and phagocytes, and exposes the field over
a read-only HTTP API.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newLabelsCmd(),
		newRunCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]string{"version": version})
			} else {
				fmt.Printf("immunesim version %s\n", version)
			}
		},
	}
}

func newLabelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labels",
		Short: "List the known labels and their default half-lives",
		RunE: func(cmd *cobra.Command, args []string) error {
			all := labels.All()
			if name, _ := cmd.Flags().GetString("kind"); name != "" {
				k, ok := labels.ParseKind(name)
				if !ok {
					return fmt.Errorf("unknown kind %q", name)
				}
				all = labels.OfKind(k)
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(all)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tHALF-LIFE\tNOTES")
			for _, m := range all {
				hl := "-"
				if m.HalfLife > 0 {
					hl = fmt.Sprintf("%g", m.HalfLife)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, m.Kind, hl, m.Notes)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("kind", "", "Only list labels of this kind (cell, substance, field, surface, event)")
	return cmd
}
