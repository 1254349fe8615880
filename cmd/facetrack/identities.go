package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/facetrack/facetrack/pkg/enrollment"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "Manage enrolled identities",
}

var identitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all identities",
	RunE:  runIdentitiesList,
}

var identitiesAddCmd = &cobra.Command{
	Use:   "add <key>",
	Short: "Create a pending identity without an embedding",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentitiesAdd,
}

var identitiesDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete an identity and all its attendance events",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentitiesDelete,
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
	identitiesCmd.AddCommand(identitiesListCmd)
	identitiesCmd.AddCommand(identitiesAddCmd)
	identitiesCmd.AddCommand(identitiesDeleteCmd)

	identitiesAddCmd.Flags().String("name", "", "Display name for the identity")
	identitiesDeleteCmd.Flags().Bool("yes", false, "Confirm deletion including attendance history")
}

func runIdentitiesList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	identities, err := a.identities.List(context.Background())
	if err != nil {
		return err
	}

	if len(identities) == 0 {
		fmt.Println("No identities.")
		return nil
	}

	for _, id := range identities {
		status := "pending"
		if id.HasEmbedding() {
			status = fmt.Sprintf("enrolled %s", id.EnrolledAt.Format("2006-01-02"))
		}
		name := id.DisplayName
		if name == "" {
			name = "-"
		}
		fmt.Printf("%-30s %-25s %s\n", id.Key, name, status)
	}
	return nil
}

func runIdentitiesAdd(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.registrar.CreatePending(context.Background(), args[0], name)
	if errors.Is(err, enrollment.ErrDuplicateIdentity) {
		return fmt.Errorf("identity %s already exists", args[0])
	}
	if err != nil {
		return err
	}

	fmt.Printf("Created pending identity %s; run 'facetrack enroll %s --image ...' to activate it\n", id.Key, id.Key)
	return nil
}

func runIdentitiesDelete(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		return fmt.Errorf("deleting an identity also deletes its attendance events; pass --yes to confirm")
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	key := enrollment.NormalizeKey(args[0])
	err = a.identities.Delete(context.Background(), key)
	if errors.Is(err, enrollment.ErrIdentityNotFound) {
		return fmt.Errorf("identity %s not found", key)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %s and its attendance events\n", key)
	return nil
}
