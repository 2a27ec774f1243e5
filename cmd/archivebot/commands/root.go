// Package commands implements the archivebot CLI with cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "archivebot",
		Short: "Auto-replies to unread archived Telegram chats",
		Long: `archivebot drives Telegram Web K in a Chrome session, watches the
Archived Chats folder, and answers unread conversations one at a time with
replies from an OpenAI-compatible model.

Examples:
  archivebot config init
  archivebot config set-key
  archivebot run
  archivebot journal stats --since 24h`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newConfigCmd(),
		newJournalCmd(),
		newCompletionCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}
