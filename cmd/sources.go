package cmd

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pcspec-crawler/internal/sites"
)

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources and known strategies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(rt.cfg.Sources))
			for name := range rt.cfg.Sources {
				names = append(names, name)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tENABLED\tSTRATEGY\tLOADER\tSEEDS")
			for _, name := range names {
				src := rt.cfg.Sources[name]
				loader := src.Loader
				if loader == "" {
					loader = "http"
				}
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%d\n", name, src.Enabled, src.Strategy, loader, len(src.SeedURLs))
			}
			_ = tw.Flush()
			fmt.Fprintf(out, "strategies: %s\n", strings.Join(sites.Names(), ", "))
			return nil
		},
	}
}
