package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/facetrack/facetrack/pkg/api"
	"github.com/facetrack/facetrack/pkg/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Serve starts the HTTP API: recognition, enrollment, identity
management, attendance queries, CSV export and Prometheus metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to (overrides config)")
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.loadModels(); err != nil {
		return err
	}

	host := cfg.Server.Host
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		host = v
	}
	port := cfg.Server.Port
	if v, _ := cmd.Flags().GetInt("port"); v > 0 {
		port = v
	}

	server := api.NewServer(a.recognizer, a.registrar, a.extractor, a.identities, a.events)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.WithError(err).Error("Shutdown error")
		}
	}()

	logging.Infof("Serving on http://%s:%d", host, port)
	fmt.Printf("FaceTrack API listening on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
