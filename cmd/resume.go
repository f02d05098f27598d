package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [task-id]...",
	Short: "Resume paused or interrupted downloads",
	Long:  `resume continues downloads from their persisted offsets. With --all every resumable record is picked up. The server copy is re-validated first; if it changed since plan time the download restarts from scratch.`,
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		quiet, _ := cmd.Flags().GetBool("quiet")
		if !all && len(args) == 0 {
			return fmt.Errorf("pass task ids or --all")
		}

		mgr, err := newManager()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		mgr.Start(ctx)

		sub := mgr.Subscribe()
		printerDone := make(chan struct{})
		tasksFailed := 0
		go func() {
			defer close(printerDone)
			tasksFailed = printEvents(sub, quiet, len(args) == 1)
		}()

		ids := args
		if all {
			records, lerr := mgr.ListResumable()
			if lerr != nil {
				return lerr
			}
			ids = nil
			for _, rec := range records {
				ids = append(ids, rec.TaskID)
			}
			if len(ids) == 0 {
				fmt.Println("No resumable downloads.")
			}
		}

		failed := 0
		for _, id := range ids {
			if err := mgr.Resume(id); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s: %v\n", id, err)
				failed++
			}
		}

		waitDone := make(chan struct{})
		go func() {
			mgr.Wait()
			close(waitDone)
		}()
		select {
		case <-waitDone:
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nInterrupted, pausing downloads...")
		}

		mgr.Shutdown(10 * time.Second)
		<-printerDone

		if failed > 0 {
			return fmt.Errorf("%d download(s) could not be resumed", failed)
		}
		if tasksFailed > 0 {
			return fmt.Errorf("%d download(s) failed", tasksFailed)
		}
		return nil
	},
}

func init() {
	resumeCmd.Flags().Bool("all", false, "resume every resumable download")
	resumeCmd.Flags().BoolP("quiet", "q", false, "suppress progress output")
}
