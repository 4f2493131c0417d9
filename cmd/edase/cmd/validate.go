package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conresinc/cloin.eda/internal/config"
	"github.com/conresinc/cloin.eda/internal/host"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check config and sources files without opening any connection",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	specs, err := config.LoadSources(sourcesFile)
	if err != nil {
		return err
	}

	failed := 0
	for _, spec := range specs {
		if _, err := host.NewConnector(spec); err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "source %q: %v\n", spec.Name, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "source %q (%s): ok\n", spec.Name, spec.Kind)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed validation", failed, len(specs))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d sources, sink %s, cursor backend %s\n",
		len(specs), cfg.Sink.Type, cfg.Cursor.Backend)
	return nil
}
