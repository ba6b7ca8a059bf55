package main

import (
	"os"

	"github.com/aretw0/conductor/internal/cli"
	"github.com/aretw0/conductor/internal/presentation/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Reads requests from stdin and prints answers. When a stage needs a human
decision the question is asked inline. Pass --thread to continue a saved
thread; a suspended thread is resumed before new input is read.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		jsonMode, _ := cmd.Flags().GetBool("json")
		if !cmd.Flags().Changed("log-level") && cfg.LogLevel == "info" {
			// logs share the terminal with the conversation
			cfg.LogLevel = "warn"
		}

		sc := cli.NewSignalContext(cmd.Context())
		defer sc.Cancel()

		app, cleanup, err := newApp(sc, cmd, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		threadID, _ := cmd.Flags().GetString("thread")
		userID, _ := cmd.Flags().GetString("user")
		plain, _ := cmd.Flags().GetBool("plain")
		quiet, _ := cmd.Flags().GetBool("quiet")

		interactive := term.IsTerminal(int(os.Stdout.Fd()))
		if !jsonMode && !quiet && interactive {
			tui.PrintBanner(os.Stdout, version)
		}

		return cli.Chat(sc, app, cli.ChatOptions{
			ThreadID: threadID,
			UserID:   userID,
			JSON:     jsonMode,
			Plain:    plain || !interactive,
			Quiet:    quiet,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringP("thread", "t", "", "Thread to continue (a new one is created when empty)")
	chatCmd.Flags().StringP("user", "u", "", "User id recorded on the thread")
	chatCmd.Flags().Bool("json", false, "Use line-delimited JSON on stdin/stdout")
	chatCmd.Flags().Bool("plain", false, "Do not render answers as markdown")
	chatCmd.Flags().BoolP("quiet", "q", false, "Suppress the banner and status lines")
}
