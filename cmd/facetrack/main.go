// facetrack is a face-recognition attendance tracker. It enrolls
// identities from face photos and turns recognitions into entry/exit
// attendance events.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/facetrack/facetrack/pkg/config"
	"github.com/facetrack/facetrack/pkg/logging"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "facetrack",
	Short: "Face-recognition attendance tracking",
	Long: `FaceTrack records attendance from face recognition. Identities are
enrolled with a reference photo; each later recognition decides an entry
or exit transition and appends it to the attendance log.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	var err error
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgFile, err)
			os.Exit(1)
		}
	} else {
		cfg, err = config.LoadDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	cfg.ExpandPaths()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare directories: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
}
