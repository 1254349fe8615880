package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/facetrack/facetrack/pkg/session"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Continuously recognize from a frame file",
	Long: `Scan runs recognition on an interval against a frame file that an
external capture process keeps up to date. Confident matches record
attendance transitions; everything else is reported and dropped.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("frame", "", "Path to the frame file to re-read each tick (required)")
	scanCmd.Flags().Duration("interval", 0, "Scan interval (overrides config)")
	_ = scanCmd.MarkFlagRequired("frame")
}

func runScan(cmd *cobra.Command, args []string) error {
	framePath, _ := cmd.Flags().GetString("frame")

	interval := time.Duration(cfg.Scan.IntervalSeconds) * time.Second
	if v, _ := cmd.Flags().GetDuration("interval"); v > 0 {
		interval = v
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.loadModels(); err != nil {
		return err
	}

	frames := func(ctx context.Context) ([]byte, error) {
		return os.ReadFile(framePath)
	}

	scanner := session.NewScanner(a.recognizer, frames, interval)
	scanner.OnOutcome = func(outcome *session.Outcome, err error) {
		var notRecognized *session.NotRecognizedError
		switch {
		case errors.As(err, &notRecognized):
			fmt.Printf("%s  no match (%s)\n",
				time.Now().Format("15:04:05"), notRecognized.Result.Reason)
		case err != nil:
			fmt.Printf("%s  scan failed: %v\n", time.Now().Format("15:04:05"), err)
		case outcome != nil && outcome.Event != nil:
			fmt.Printf("%s  %s %s (score %.4f)\n",
				time.Now().Format("15:04:05"), outcome.Event.Type,
				outcome.Result.Identity.Key, outcome.Result.Score)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nStopping scan...")
		cancel()
	}()

	fmt.Printf("Scanning %s every %s; Ctrl+C to stop\n", framePath, interval)
	if err := scanner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
