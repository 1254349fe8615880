package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/facetrack/facetrack/pkg/session"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize",
	Short: "Run one recognition against a captured image",
	Long: `Recognize matches the dominant face in the image against the enrolled
set. A confident match records an entry or exit transition in the
attendance log; anything less records nothing.`,
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().String("image", "", "Path to the captured image (required)")
	_ = recognizeCmd.MarkFlagRequired("image")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	imagePath, _ := cmd.Flags().GetString("image")

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.loadModels(); err != nil {
		return err
	}

	outcome, err := a.recognizer.RecognizeImage(context.Background(), image)

	var notRecognized *session.NotRecognizedError
	if errors.As(err, &notRecognized) {
		res := notRecognized.Result
		fmt.Printf("Not recognized after %d attempt(s): %s (best score %.4f)\n",
			res.Attempts, res.Reason, res.Score)
		return nil
	}
	if err != nil {
		return err
	}

	res := outcome.Result
	fmt.Printf("Recognized %s (%s): score %.4f, tier %s\n",
		res.Identity.Key, res.Identity.DisplayName, res.Score, res.Tier)
	if outcome.Event != nil {
		fmt.Printf("Recorded %s at %s\n",
			outcome.Event.Type, outcome.Event.Timestamp.Format("15:04:05"))
	}
	return nil
}
