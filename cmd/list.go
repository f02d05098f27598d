package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/IsaacGridGainsDev/torrentlite/internal/config"
	"github.com/IsaacGridGainsDev/torrentlite/internal/resume"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List paused or interrupted downloads that can be resumed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Read the records directly; listing must work while another
		// instance holds the manager lock.
		store, err := resume.NewStore(config.GetResumeDir())
		if err != nil {
			return err
		}
		records, err := store.List()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No resumable downloads.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tFILE\tPROGRESS\tSIZE\tURL")
		for _, rec := range records {
			pct := "?"
			if rec.TotalSize > 0 {
				pct = fmt.Sprintf("%.1f%%", float64(rec.DownloadedBytes())/float64(rec.TotalSize)*100)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				rec.TaskID, rec.Filename, pct,
				humanize.Bytes(uint64(rec.TotalSize)), rec.URL)
		}
		return w.Flush()
	},
}
