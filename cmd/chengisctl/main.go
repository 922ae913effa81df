package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sremani/chengis/internal/telemetry/logging"
)

var version = "dev"

var (
	verboseFlag bool
	quietFlag   bool
	jsonLogFlag bool
)

var rootCmd = &cobra.Command{
	Use:     "chengisctl",
	Short:   "Chengis build execution engine CLI",
	Version: version,
	Long: `chengisctl drives the Chengis build execution engine from the command line.

Common tasks:
  chengisctl run pipeline.yaml         # execute a pipeline definition once
  chengisctl webhook replay-file <f>   # persist and replay a delivery saved on disk
  chengisctl version                   # print the build version`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(verboseFlag, quietFlag, jsonLogFlag)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the chengisctl version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(os.Stdout, "chengisctl version %s\n", version)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress non-error logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogFlag, "json-logs", false, "emit logs as JSON instead of text")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(webhookCmd)
	rootCmd.AddCommand(completionCmd)
}

var completionCmd = &cobra.Command{
	Use:                   "completion [bash|zsh|fish|powershell]",
	Short:                 "Generate shell completion scripts",
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.ExactValidArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
