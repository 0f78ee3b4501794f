package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/threadattrs/internal/config"
)

var version = "dev"

var (
	noColor bool
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "threadattrs",
	Short: "Extract structured attributes from stored email conversations",
	Long: `threadattrs resolves a conversation's account, applies per-account rate
limits, sends the email chain to a hosted chat model and returns the
"key: value" attributes it reports.

Configuration is read from THREADATTRS_* environment variables and an
optional .env file.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
		return config.LoadDotEnv(envFile)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file (default .env)")

	rootCmd.AddCommand(lambdaCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
