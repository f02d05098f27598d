// Package cmd wires the CLI commands around the download manager.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/IsaacGridGainsDev/torrentlite/internal/config"
	"github.com/IsaacGridGainsDev/torrentlite/internal/manager"
	"github.com/IsaacGridGainsDev/torrentlite/internal/utils"
)

// Version information, set via ldflags during build.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "torrentlite",
	Short:   "A segmented file download accelerator",
	Long:    `TorrentLite downloads files over HTTP(S) in concurrent byte-range segments, with pause, resume and checksum verification.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		utils.InitLogger(debug)
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(historyCmd)
}

// loadSettings returns persisted settings, falling back to defaults on
// a missing or unreadable file.
func loadSettings() *config.Settings {
	settings, err := config.LoadSettings()
	if err != nil {
		log := utils.GetLogger("cli")
		log.Warn().Err(err).Msg("using default settings")
		return config.DefaultSettings()
	}
	return settings
}

func newManager() (*manager.Manager, error) {
	return manager.New(loadSettings())
}
