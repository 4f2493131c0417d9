package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	sourcesFile string
)

var rootCmd = &cobra.Command{
	Use:   "edase",
	Short: "Event source engine for rule-driven automation",
	Long: `edase runs a fleet of event source connectors (Elastic queries,
MQTT topics, RSS feeds, ServiceNow tables, NextDNS log streams) and
turns whatever they see into a uniform event stream for downstream
rule engines.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, /etc/edase/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&sourcesFile, "sources", "sources.yaml", "sources file")
}
