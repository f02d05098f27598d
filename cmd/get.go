package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/events"
	"github.com/IsaacGridGainsDev/torrentlite/internal/manager"
)

// batchFile is the YAML format accepted by --batch.
type batchFile struct {
	Downloads []batchEntry `yaml:"downloads"`
}

type batchEntry struct {
	URL      string `yaml:"url"`
	Output   string `yaml:"output"`
	Segments int    `yaml:"segments"`
	MD5      string `yaml:"md5"`
	SHA256   string `yaml:"sha256"`
}

var getCmd = &cobra.Command{
	Use:   "get [url]...",
	Short: "Download one or more URLs",
	Long:  `get downloads each URL in concurrent byte-range segments and verifies optional checksums. Interrupting with Ctrl-C pauses active downloads so they can be resumed later.`,
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		segments, _ := cmd.Flags().GetInt("segments")
		md5sum, _ := cmd.Flags().GetString("md5")
		sha256sum, _ := cmd.Flags().GetString("sha256")
		batch, _ := cmd.Flags().GetString("batch")
		limitRate, _ := cmd.Flags().GetString("limit-rate")
		failFast, _ := cmd.Flags().GetBool("fail-fast")
		quiet, _ := cmd.Flags().GetBool("quiet")

		requests, err := buildRequests(args, batch, output, segments, md5sum, sha256sum)
		if err != nil {
			return err
		}
		if len(requests) == 0 {
			return fmt.Errorf("no URLs given; pass them as arguments or via --batch")
		}

		settings := loadSettings()
		if failFast {
			settings.Performance.FailFast = true
		}
		if limitRate != "" {
			rate, perr := humanize.ParseBytes(limitRate)
			if perr != nil {
				return fmt.Errorf("invalid --limit-rate %q: %w", limitRate, perr)
			}
			settings.Performance.ThrottleBytesPerSec = int64(rate)
		}

		mgr, err := manager.New(settings)
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
			tasksFailed = printEvents(sub, quiet, len(requests) == 1)
		}()

		failed := 0
		for _, req := range requests {
			if _, err := mgr.Enqueue(req); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s: %v\n", req.URL, err)
				failed++
			}
		}

		if settings.General.AutoResume {
			records, rerr := mgr.ListResumable()
			if rerr == nil {
				for _, rec := range records {
					if err := mgr.Resume(rec.TaskID); err != nil {
						fmt.Fprintf(os.Stderr, "Error resuming %s: %v\n", rec.TaskID, err)
					}
				}
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
			return fmt.Errorf("%d download(s) could not be queued", failed)
		}
		if tasksFailed > 0 {
			return fmt.Errorf("%d download(s) failed", tasksFailed)
		}
		return nil
	},
}

func init() {
	getCmd.Flags().StringP("output", "o", "", "destination file or directory")
	getCmd.Flags().IntP("segments", "s", 0, "number of segments (0 = configured default)")
	getCmd.Flags().String("md5", "", "expected MD5 checksum, hex")
	getCmd.Flags().String("sha256", "", "expected SHA256 checksum, hex")
	getCmd.Flags().String("batch", "", "YAML file listing downloads")
	getCmd.Flags().String("limit-rate", "", "global download rate limit, e.g. 2MB")
	getCmd.Flags().Bool("fail-fast", false, "abort the whole task on the first failed segment")
	getCmd.Flags().BoolP("quiet", "q", false, "suppress progress output")
}

func buildRequests(args []string, batch, output string, segments int, md5sum, sha256sum string) ([]manager.Request, error) {
	var requests []manager.Request
	for _, url := range args {
		requests = append(requests, manager.Request{
			URL:       url,
			DestPath:  output,
			Segments:  segments,
			MD5Sum:    md5sum,
			SHA256Sum: sha256sum,
		})
	}
	if batch == "" {
		return requests, nil
	}

	data, err := os.ReadFile(batch)
	if err != nil {
		return nil, fmt.Errorf("cannot read batch file: %w", err)
	}
	var bf batchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("cannot parse batch file: %w", err)
	}
	for _, e := range bf.Downloads {
		if e.URL == "" {
			continue
		}
		dest := e.Output
		if dest == "" {
			dest = output
		}
		segs := e.Segments
		if segs == 0 {
			segs = segments
		}
		requests = append(requests, manager.Request{
			URL:       e.URL,
			DestPath:  dest,
			Segments:  segs,
			MD5Sum:    e.MD5,
			SHA256Sum: e.SHA256,
		})
	}
	return requests, nil
}

// printEvents renders task events to stdout until the channel closes
// and returns the number of tasks that ended in failure. With a single
// task an updating progress line is shown; with several, only
// lifecycle events print to keep output readable.
func printEvents(sub <-chan any, quiet, single bool) int {
	failed := 0
	inline := false
	endInline := func() {
		if inline {
			fmt.Println()
			inline = false
		}
	}
	for msg := range sub {
		if _, ok := msg.(events.TaskFailedMsg); ok {
			failed++
		}
		if quiet {
			continue
		}
		switch m := msg.(type) {
		case events.TaskStartedMsg:
			endInline()
			size := "unknown size"
			if m.Total >= 0 {
				size = humanize.Bytes(uint64(m.Total))
			}
			fmt.Printf("Downloading %s (%s) -> %s\n", m.Filename, size, m.DestPath)
		case events.TaskProgressMsg:
			if !single {
				continue
			}
			s := m.Snapshot
			line := fmt.Sprintf("\r%s  %s/s", humanize.Bytes(uint64(s.Downloaded)), humanize.Bytes(uint64(s.Speed)))
			if s.Total > 0 {
				pct := float64(s.Downloaded) / float64(s.Total) * 100
				eta := "--"
				if s.ETASeconds >= 0 {
					eta = (time.Duration(s.ETASeconds) * time.Second).String()
				}
				line = fmt.Sprintf("\r%5.1f%%  %s / %s  %s/s  ETA %s",
					pct, humanize.Bytes(uint64(s.Downloaded)), humanize.Bytes(uint64(s.Total)),
					humanize.Bytes(uint64(s.Speed)), eta)
			}
			fmt.Print(line + "   ")
			inline = true
		case events.TaskCompletedMsg:
			endInline()
			fmt.Printf("Completed %s (%s in %s)\n", m.Filename, humanize.Bytes(uint64(m.Total)), m.Elapsed.Round(time.Millisecond))
		case events.TaskPausedMsg:
			endInline()
			fmt.Printf("Paused %s at %s; resume with: torrentlite resume %s\n",
				m.TaskID, humanize.Bytes(uint64(m.Downloaded)), m.TaskID)
		case events.TaskFailedMsg:
			endInline()
			fmt.Fprintf(os.Stderr, "Failed %s: %v (%s)\n", m.TaskID, m.Err, m.Kind)
		case events.TaskCancelledMsg:
			endInline()
			fmt.Printf("Cancelled %s\n", m.TaskID)
		}
	}
	endInline()
	return failed
}
