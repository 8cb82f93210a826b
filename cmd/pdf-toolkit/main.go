package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pdf-toolkit",
	Short: "PDF Toolkit - multi-tenant document processing service",
	Long: `PDF Toolkit is an HTTP service for PDF manipulation and format
conversion: compression, merge and split, rotation, watermarks,
encryption, OCR and office format conversions, with per-tenant
quotas and isolated storage.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"PDF Toolkit version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}
