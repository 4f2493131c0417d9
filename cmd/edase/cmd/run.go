package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conresinc/cloin.eda/internal/config"
	"github.com/conresinc/cloin.eda/internal/host"
	"github.com/conresinc/cloin.eda/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all configured sources until interrupted",
	RunE:  runRun,
}

var printEvents bool

func init() {
	runCmd.Flags().BoolVar(&printEvents, "print", false, "write each event to stdout as JSON (channel sink only)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	specs, err := config.LoadSources(sourcesFile)
	if err != nil {
		return err
	}

	h, err := host.New(cfg, specs, logger)
	if err != nil {
		return err
	}

	logger.Info("starting sources",
		"sources", len(specs),
		"sink", cfg.Sink.Type,
		"cursor_backend", cfg.Cursor.Backend)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The channel sink needs a consumer or block-policy runners stall
	// once the buffer fills.
	if events := h.Events(); events != nil {
		enc := json.NewEncoder(os.Stdout)
		go func() {
			for env := range events {
				if printEvents {
					if err := enc.Encode(env); err != nil {
						logger.Error("encoding event", logging.Error(err))
					}
				}
			}
		}()
	} else if printEvents {
		return fmt.Errorf("--print requires the channel sink")
	}

	return h.Run(ctx)
}
