package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/eiannone/keyboard"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/deal-drive-sync/internal/httpapi"
	"github.com/chmdznr/deal-drive-sync/internal/report"
	"github.com/chmdznr/deal-drive-sync/pkg/models"
	"github.com/chmdznr/deal-drive-sync/pkg/utils"
	"github.com/chmdznr/deal-drive-sync/pkg/version"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	dealFlag := &cli.StringFlag{
		Name:     "deal",
		Usage:    "CRM deal id",
		Required: true,
	}

	app := &cli.App{
		Name:                 "dealsync",
		Usage:                "Mirror CRM deal files into the shared drive and keep the ledger in step",
		Version:              version.Version,
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Print(version.Info())
					return nil
				},
			},
			{
				Name:  "sync",
				Usage: "Sync the documents of one or more deals",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "deal",
						Usage:    "CRM deal id (repeatable)",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Files reconciled in parallel per deal (default SYNC_CONCURRENCY)",
					},
					&cli.BoolFlag{
						Name:  "interactive",
						Usage: "Press Esc or q to stop after the current deal",
					},
				},
				Action: startSync,
			},
			{
				Name:   "status",
				Usage:  "Show the ledger status of a deal",
				Flags:  []cli.Flag{dealFlag},
				Action: showStatus,
			},
			{
				Name:  "report",
				Usage: "Export the ledger rows of a deal to xlsx",
				Flags: []cli.Flag{
					dealFlag,
					&cli.StringFlag{
						Name:  "out",
						Usage: "Output file (default deal-<id>.xlsx)",
					},
				},
				Action: exportReport,
			},
			{
				Name:   "forget",
				Usage:  "Delete the ledger rows of a deal (remote files are kept)",
				Flags:  []cli.Flag{dealFlag},
				Action: forgetDeal,
			},
			{
				Name:  "serve",
				Usage: "Serve the HTTP sync trigger",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (default HTTP_ADDR)",
					},
				},
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type dealOutcome struct {
	dealID string
	result models.SyncResult
	err    error
}

// startSync syncs the given deals one after another.
//
// Files inside a deal are reconciled concurrently; deals are not, so a content store outage
// shows up once per deal instead of once per file. With --interactive, Esc or q cancels the
// run and the deal in flight stops at its next network call.
func startSync(c *cli.Context) error {
	dealIDs := c.StringSlice("deal")
	if len(dealIDs) == 0 {
		return fmt.Errorf("at least one deal id is required")
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sess, err := openSession(ctx, true, c.Int("concurrency"))
	if err != nil {
		return err
	}
	defer sess.Close()

	if c.Bool("interactive") {
		stop, err := watchKeyboard(cancel)
		if err != nil {
			return fmt.Errorf("failed to read keyboard: %v", err)
		}
		defer stop()
		fmt.Println("Press Esc or q to stop")
	}

	bar := pb.New(len(dealIDs))
	bar.SetTemplate(`Deals {{counters . }} {{bar . }} {{percent . }} {{etime . }}`)
	bar.Start()

	started := time.Now()
	outcomes := make([]dealOutcome, 0, len(dealIDs))
	for _, dealID := range dealIDs {
		if ctx.Err() != nil {
			break
		}
		result, err := sess.service.SyncDeal(ctx, dealID)
		outcomes = append(outcomes, dealOutcome{dealID: dealID, result: result, err: err})
		bar.Increment()
	}
	bar.Finish()

	failed := 0
	fmt.Printf("\nSync Summary (%s):\n", utils.FormatDuration(time.Since(started)))
	for _, o := range outcomes {
		if o.err != nil {
			failed++
			fmt.Printf("- Deal %s: failed: %v\n", o.dealID, o.err)
			continue
		}
		fmt.Printf("- Deal %s: %d imported, %d skipped\n", o.dealID, o.result.Imported, o.result.Skipped)
		for _, w := range o.result.Warnings {
			fmt.Printf("    warning: %s\n", w)
		}
	}
	if skipped := len(dealIDs) - len(outcomes); skipped > 0 {
		fmt.Printf("- %d deals not started (cancelled)\n", skipped)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d deals failed", failed, len(dealIDs))
	}
	if errors.Is(ctx.Err(), context.Canceled) && len(outcomes) < len(dealIDs) {
		return fmt.Errorf("sync cancelled")
	}
	return nil
}

// watchKeyboard cancels the run when Esc, Ctrl+C or q is pressed.
func watchKeyboard(cancel context.CancelFunc) (func(), error) {
	keys, err := keyboard.GetKeys(10)
	if err != nil {
		return nil, err
	}
	go func() {
		for ev := range keys {
			if ev.Err != nil {
				return
			}
			if ev.Key == keyboard.KeyEsc || ev.Key == keyboard.KeyCtrlC || ev.Rune == 'q' || ev.Rune == 'Q' {
				cancel()
				return
			}
		}
	}()
	return func() { _ = keyboard.Close() }, nil
}

// showStatus shows the number of ledger rows of a deal and how many point at a remote file.
func showStatus(c *cli.Context) error {
	dealID := c.String("deal")

	sess, err := openSession(c.Context, false, 0)
	if err != nil {
		return err
	}
	defer sess.Close()

	stats, err := sess.service.Stats(c.Context, dealID)
	if err != nil {
		return fmt.Errorf("failed to get stats: %v", err)
	}

	fmt.Printf("Deal: %s\n", dealID)
	fmt.Printf("Ledger: %s (%s)\n", sess.cfg.LedgerDriver, sess.cfg.LedgerDSN)
	fmt.Printf("Total Files: %d\n", stats.TotalFiles)
	fmt.Printf("Linked Files: %d\n", stats.LinkedFiles)
	fmt.Printf("Unlinked Files: %d\n", stats.UnlinkedFiles)
	if stats.LastUpdated != nil {
		fmt.Printf("Last Updated: %s\n", stats.LastUpdated.Format(time.RFC3339))
	}
	if stats.TotalFiles > 0 {
		fmt.Printf("Progress: %.2f%% (Files)\n", float64(stats.LinkedFiles)/float64(stats.TotalFiles)*100)
	}
	return nil
}

func exportReport(c *cli.Context) error {
	dealID := c.String("deal")
	out := strings.TrimSpace(c.String("out"))
	if out == "" {
		out = fmt.Sprintf("deal-%s.xlsx", dealID)
	}

	sess, err := openSession(c.Context, false, 0)
	if err != nil {
		return err
	}
	defer sess.Close()

	records, err := sess.service.Files(c.Context, dealID)
	if err != nil {
		return fmt.Errorf("failed to list ledger rows: %v", err)
	}
	if err := report.Save(out, records); err != nil {
		return fmt.Errorf("failed to write report: %v", err)
	}

	info, err := os.Stat(out)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d rows to %s (%s)\n", len(records), out, utils.FormatSize(info.Size()))
	return nil
}

func forgetDeal(c *cli.Context) error {
	dealID := c.String("deal")

	sess, err := openSession(c.Context, false, 0)
	if err != nil {
		return err
	}
	defer sess.Close()

	removed, err := sess.service.Forget(c.Context, dealID)
	if err != nil {
		return fmt.Errorf("failed to delete ledger rows: %v", err)
	}
	fmt.Printf("Removed %d ledger rows for deal %s\n", removed, dealID)
	return nil
}

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, true, 0)
	if err != nil {
		return err
	}
	defer sess.Close()

	if sess.logger.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	addr := c.String("addr")
	if addr == "" {
		addr = sess.cfg.HTTPAddr
	}
	return httpapi.NewServer(sess.service, sess.logger).Run(ctx, addr)
}
