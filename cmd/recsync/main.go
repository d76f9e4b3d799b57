package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/chmdznr/recsync/internal/config"
	"github.com/chmdznr/recsync/internal/db"
	"github.com/chmdznr/recsync/internal/report"
	"github.com/chmdznr/recsync/internal/storage"
	"github.com/chmdznr/recsync/internal/sync"
	"github.com/chmdznr/recsync/internal/watch"
	"github.com/chmdznr/recsync/pkg/utils"
	"github.com/chmdznr/recsync/pkg/version"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	app := &cli.App{
		Name:                 "recsync",
		Usage:                "Upload finished recordings to S3 under date folders",
		Version:              version.Version,
		EnableBashCompletion: true,
		Flags:                globalFlags(),
		Action:               runUpload,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("Version:    %s\n", version.Version)
					fmt.Printf("Git commit: %s\n", version.GitCommit)
					fmt.Printf("Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:  "upload",
				Usage: "Upload finished recordings once and exit",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "preflight",
						Usage: "Check that the bucket exists before uploading",
					},
				},
				Action: runUpload,
			},
			{
				Name:  "watch",
				Usage: "Watch the recordings directory and upload as captures finish",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "debounce",
						Usage: "Quiet period after file activity before a pass",
					},
					&cli.DurationFlag{
						Name:  "rescan",
						Usage: "Interval between passes without file activity",
					},
					&cli.BoolFlag{
						Name:  "interactive",
						Usage: "Read keys from the terminal: u uploads now, q quits",
					},
				},
				Action: runWatch,
			},
			{
				Name:  "status",
				Usage: "Show upload ledger status",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "recent",
						Usage: "Number of recent uploads to list",
						Value: 5,
					},
				},
				Action: showStatus,
			},
			{
				Name:  "report",
				Usage: "Export the upload ledger to CSV or XLSX",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Usage:    "Output file (.csv or .xlsx)",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Only export the most recent N rows (0 for all)",
					},
				},
				Action: exportReport,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// globalFlags are shared by every command; each maps onto a config field
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Path to YAML config file",
			Value:   "recsync.yaml",
			EnvVars: []string{"RECSYNC_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "dir",
			Usage:   "Recordings directory",
			EnvVars: []string{"RECORDINGS_DIR"},
		},
		&cli.StringFlag{
			Name:    "region",
			Usage:   "AWS region",
			EnvVars: []string{"AWS_REGION"},
		},
		&cli.StringFlag{
			Name:    "bucket",
			Usage:   "Destination bucket",
			EnvVars: []string{"S3_BUCKET_NAME"},
		},
		&cli.StringFlag{
			Name:    "prefix",
			Usage:   "Key prefix inside the bucket",
			EnvVars: []string{"S3_PREFIX"},
		},
		&cli.StringFlag{
			Name:    "endpoint",
			Usage:   "S3-compatible endpoint",
			EnvVars: []string{"S3_ENDPOINT"},
		},
		&cli.BoolFlag{
			Name:  "insecure",
			Usage: "Use plain HTTP to reach the endpoint",
		},
		&cli.StringFlag{
			Name:    "ledger",
			Usage:   "Path to the upload ledger database",
			EnvVars: []string{"RECSYNC_LEDGER"},
		},
		&cli.BoolFlag{
			Name:  "progress",
			Usage: "Show upload progress bars when stdout is a terminal (--progress=false disables)",
			Value: true,
		},
	}
}

// loadConfig merges the config file with flags and environment variables
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("dir") {
		cfg.RecordingsDir = c.String("dir")
	}
	if c.IsSet("region") {
		cfg.Region = c.String("region")
	}
	if c.IsSet("bucket") {
		cfg.Bucket = c.String("bucket")
	}
	if c.IsSet("prefix") {
		cfg.Prefix = c.String("prefix")
	}
	if c.IsSet("endpoint") {
		cfg.Endpoint = c.String("endpoint")
	}
	if c.IsSet("insecure") {
		cfg.Secure = !c.Bool("insecure")
	}
	if c.IsSet("ledger") {
		cfg.LedgerPath = c.String("ledger")
	}
	return cfg, nil
}

func showProgress(c *cli.Context) bool {
	return c.Bool("progress") && term.IsTerminal(int(os.Stdout.Fd()))
}

// newSyncer wires config, ledger and object store together. The caller
// closes the returned ledger.
func newSyncer(c *cli.Context, cfg *config.Config) (*sync.Syncer, *db.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	ledger, err := db.New(cfg.LedgerPath)
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.NewMinioStore(cfg.Destination(), nil)
	if err != nil {
		ledger.Close()
		return nil, nil, err
	}

	syncer, err := sync.NewSyncer(ledger, store, &sync.SyncerConfig{
		Dir:          cfg.RecordingsDir,
		Extension:    cfg.Extension,
		Destination:  cfg.Destination(),
		ShowProgress: showProgress(c),
	})
	if err != nil {
		ledger.Close()
		return nil, nil, fmt.Errorf("failed to create syncer: %w", err)
	}
	return syncer, ledger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runUpload performs a single pass. A pass with failed files exits non-zero
// so schedulers notice; the files stay local for the next run.
func runUpload(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	syncer, ledger, err := newSyncer(c, cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx, stop := signalContext()
	defer stop()

	if c.Bool("preflight") {
		if err := syncer.Preflight(ctx); err != nil {
			return err
		}
	}

	result, err := syncer.Run(ctx)
	if err != nil {
		return fmt.Errorf("upload pass failed: %w", err)
	}
	if result.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d recordings failed to upload", result.Failed, result.Processed), 1)
	}
	return nil
}

func runWatch(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("debounce") {
		cfg.Watch.DebounceMS = int(c.Duration("debounce") / time.Millisecond)
	}
	if c.IsSet("rescan") {
		cfg.Watch.RescanInterval = c.Duration("rescan")
	}

	syncer, ledger, err := newSyncer(c, cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := syncer.Preflight(ctx); err != nil {
		return err
	}

	w, err := watch.New(cfg.RecordingsDir, watch.Options{
		Extension:      cfg.Extension,
		Debounce:       cfg.Debounce(),
		RescanInterval: cfg.Watch.RescanInterval,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Printf("Watching: %s\n", cfg.RecordingsDir)
	if c.Bool("interactive") && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Println("Press u to upload now, q to stop")
		go func() {
			if err := watch.ListenKeys(ctx, w, stop); err != nil {
				log.Printf("Keyboard error: %v", err)
			}
		}()
	} else {
		fmt.Println("Press Ctrl+C to stop")
	}

	err = w.Run(ctx, func(ctx context.Context) error {
		_, err := syncer.Run(ctx)
		return err
	})
	fmt.Println("Watcher stopped")
	return err
}

// showStatus prints ledger totals and the most recent uploads
func showStatus(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ledger, err := db.New(cfg.LedgerPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer ledger.Close()

	stats, err := ledger.GetStats()
	if err != nil {
		return err
	}

	fmt.Printf("Recordings: %s\n", cfg.RecordingsDir)
	if cfg.Bucket != "" {
		fmt.Printf("Destination: s3://%s/%s\n", cfg.Bucket, cfg.Prefix)
	}
	fmt.Printf("Tracked Files: %d (Size: %s)\n", stats.TotalFiles, utils.FormatSize(stats.TotalSize))
	fmt.Printf("Completed: %d (Size: %s)\n", stats.CompletedFiles, utils.FormatSize(stats.CompletedSize))
	fmt.Printf("Awaiting Local Delete: %d (Size: %s)\n", stats.UploadedFiles, utils.FormatSize(stats.UploadedSize))
	fmt.Printf("Pending: %d (Size: %s)\n", stats.PendingFiles, utils.FormatSize(stats.PendingSize))
	fmt.Printf("Failed: %d (Size: %s)\n", stats.FailedFiles, utils.FormatSize(stats.FailedSize))
	if stats.LastCompleted.IsZero() {
		fmt.Println("Last Upload: never")
	} else {
		fmt.Printf("Last Upload: %s\n", humanize.Time(stats.LastCompleted))
	}

	recent, err := ledger.ListUploads(c.Int("recent"))
	if err != nil {
		return err
	}
	if len(recent) > 0 {
		fmt.Println("\nRecent:")
	}
	for _, r := range recent {
		line := fmt.Sprintf("  %-9s %s (%s, %s)", r.Status, r.ObjectKey, utils.FormatSize(r.Size), humanize.Time(r.UpdatedAt))
		if r.Error != "" {
			line += " - " + r.Error
		}
		fmt.Println(line)
	}
	return nil
}

func exportReport(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ledger, err := db.New(cfg.LedgerPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer ledger.Close()

	records, err := ledger.ListUploads(c.Int("limit"))
	if err != nil {
		return err
	}

	out := c.String("out")
	if err := report.Write(out, records); err != nil {
		return err
	}
	fmt.Printf("Exported %d records to %s\n", len(records), out)
	return nil
}
