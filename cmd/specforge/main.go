package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd is the specforge binary; each subcommand is one process role.
var rootCmd = &cobra.Command{
	Use:   "specforge",
	Short: "Spec-driven app builder: chat about a spec, get a deployed app",
	Long: `specforge keeps a project's product spec and code in a virtual file
system. A chat agent edits the spec, a code generator reconciles code/
with it and the result is deployed to a preview VM.

Commands:
  api     - HTTP API (runs chats in-process unless DISPATCH=rabbitmq)
  worker  - RabbitMQ consumer that runs queued chats
  migrate - create or update database tables
  events  - print a project's timeline in the terminal
  token   - sign a development bearer token`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			return os.Setenv("SPECFORGE_CONFIG", configPath)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (or set SPECFORGE_CONFIG)")

	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
