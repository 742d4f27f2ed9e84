package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/medindex/internal/cli"
	"github.com/cloo-solutions/medindex/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "medindex",
		Short: "Medindex CLI - medical literature ingestion and retrieval",
		Long: `Medindex CLI submits documents to a medindexd server and queries it.

Environment variables:
  MEDINDEX_API_URL   API base URL (default: http://localhost:8080)`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.SubmitCmd())
	rootCmd.AddCommand(client.GetCmd())
	rootCmd.AddCommand(client.ListCmd())
	rootCmd.AddCommand(client.ReingestCmd())
	rootCmd.AddCommand(client.DeactivateCmd())
	rootCmd.AddCommand(client.PurgeCmd())
	rootCmd.AddCommand(client.DownloadCmd())
	rootCmd.AddCommand(client.SearchCmd())
	rootCmd.AddCommand(client.AnswerCmd())
	rootCmd.AddCommand(client.FeedbackCmd())
	rootCmd.AddCommand(client.AdminCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
