package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/facetrack/facetrack/pkg/enrollment"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <key>",
	Short: "Enroll an identity from a face photo",
	Long: `Enroll registers a reference embedding for an identity. The photo must
contain exactly one face. An already enrolled identity is rejected unless
--reenroll is given, which replaces the stored embedding.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("image", "", "Path to the enrollment photo (required)")
	enrollCmd.Flags().String("name", "", "Display name for the identity")
	enrollCmd.Flags().Bool("reenroll", false, "Replace an existing reference embedding")
	_ = enrollCmd.MarkFlagRequired("image")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	key := args[0]
	imagePath, _ := cmd.Flags().GetString("image")
	name, _ := cmd.Flags().GetString("name")
	reenroll, _ := cmd.Flags().GetBool("reenroll")

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

	ctx := context.Background()
	emb, err := a.extractor.ExtractSingle(ctx, image)
	if err != nil {
		return fmt.Errorf("extracting face: %w", err)
	}

	id, err := a.registrar.Register(ctx, key, name, emb, reenroll)
	if errors.Is(err, enrollment.ErrDuplicateIdentity) {
		return fmt.Errorf("identity %s is already enrolled; use --reenroll to replace", key)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Enrolled %s (%s), quality %.0f/100\n", id.Key, id.DisplayName, id.Quality)
	return nil
}
