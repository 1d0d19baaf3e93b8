package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	submitSite        string
	submitUser        string
	submitBranch      string
	submitBuildAt     string
	submitContentType string
	submitItemKey     string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a command to the delegator inbox",
}

var submitBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Submit a build command for a site",
	Long: `Submit a build command for a site.

With --branch the build targets the bucket of that deploy branch only.
Without it the delegator fans the command out to every deploy branch of
the site.

With --build-at the site is built once now as a preview and once again at
the given time (RFC 3339, e.g. 2026-09-01T08:00:00Z).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(submitUser)
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}
		var buildAt time.Time
		if submitBuildAt != "" {
			buildAt, err = time.Parse(time.RFC3339, submitBuildAt)
			if err != nil {
				return fmt.Errorf("invalid --build-at: %w", err)
			}
		}

		reg, pool, err := openRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		err = reg.SignalBuild(cmd.Context(), submitSite, userID, submitBranch, buildAt)
		if err != nil {
			return err
		}

		if submitBranch != "" {
			fmt.Printf("submitted build of %s branch %s\n", submitSite, submitBranch)
		} else {
			fmt.Printf("submitted build of %s, all branches\n", submitSite)
		}
		return nil
	},
}

var submitPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Submit a preview build command for a site",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(submitUser)
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}

		reg, pool, err := openRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		err = reg.SignalPreview(cmd.Context(), submitSite, userID, submitContentType, submitItemKey)
		if err != nil {
			return err
		}

		fmt.Printf("submitted preview build of %s (%s/%s)\n", submitSite, submitContentType, submitItemKey)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.PersistentFlags().StringVar(&submitSite, "site", "", "site name")
	submitCmd.PersistentFlags().StringVar(&submitUser, "user", "", "requesting user ID")
	_ = submitCmd.MarkPersistentFlagRequired("site")
	_ = submitCmd.MarkPersistentFlagRequired("user")

	submitBuildCmd.Flags().StringVar(&submitBranch, "branch", "", "deploy branch (all branches when empty)")
	submitBuildCmd.Flags().StringVar(&submitBuildAt, "build-at", "", "schedule the publish for a later time (RFC 3339)")
	submitCmd.AddCommand(submitBuildCmd)

	submitPreviewCmd.Flags().StringVar(&submitContentType, "content-type", "", "content type of the previewed item")
	submitPreviewCmd.Flags().StringVar(&submitItemKey, "item-key", "", "key of the previewed item")
	_ = submitPreviewCmd.MarkFlagRequired("content-type")
	_ = submitPreviewCmd.MarkFlagRequired("item-key")
	submitCmd.AddCommand(submitPreviewCmd)
}
