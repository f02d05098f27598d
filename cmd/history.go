package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/IsaacGridGainsDev/torrentlite/internal/config"
	"github.com/IsaacGridGainsDev/torrentlite/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently completed downloads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("limit")

		store, err := history.Open(config.GetHistoryPath())
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.Recent(n)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No completed downloads.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tFILE\tSIZE\tKIND\tPATH")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				humanize.Time(e.CompletedAt), e.Filename,
				humanize.Bytes(uint64(e.Size)), e.FileKind, e.DestPath)
		}
		return w.Flush()
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all history entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.Open(config.GetHistoryPath())
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Println("History cleared.")
		return nil
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of entries to show")
	historyCmd.AddCommand(historyClearCmd)
}
