package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "indexactl",
	Short: "Control a running Indexa server",
	Long: `indexactl talks to the Indexa HTTP API.

Point it at a server with INDEXA_URL (default http://127.0.0.1:8080) and
authenticate with INDEXA_TOKEN, obtained via "indexactl signup" or
"indexactl login".`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(signupCmd, loginCmd, uploadCmd, listCmd, statusCmd, chunksCmd, processCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
