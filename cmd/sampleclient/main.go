// Command sampleclient searches a FHIR server for patients by family name and
// prints them, first in server order and then sorted by first name.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/SanteonNL/fenix-sampleclient/cmd/sampleclient/config"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sampleclient",
		Short: "Search a FHIR server for patients and print them as a table",
		Long: `sampleclient runs a Patient search (family name) against a FHIR R4 server,
prints the matching patients with their birth date, and prints them again
sorted by first name.

Settings are read from a .env file and the environment (FHIR_BASE_URL,
FHIR_FAMILY, FHIR_MAX_PAGES, FHIR_RETRY_MAX, FHIR_RETRY_WAIT_MIN,
FHIR_RETRY_WAIT_MAX, FHIR_TIMEOUT, LOG_LEVEL, LOG_BODIES, OUTPUT_DIR).
Flags override both.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         runSearch,
	}

	cmd.Flags().String("env-file", ".env", "dotenv file to load; a missing file is ignored")
	// defaults are shown for reference; only flags that are set override the environment
	defaults := config.Default()
	cmd.Flags().String("base-url", defaults.BaseURL, "FHIR server base URL (FHIR_BASE_URL)")
	cmd.Flags().String("family", defaults.Family, "family name to search for (FHIR_FAMILY)")
	cmd.Flags().Int("max-pages", defaults.MaxPages, "number of result pages to read, 0 reads all (FHIR_MAX_PAGES)")
	cmd.Flags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	cmd.Flags().String("output-dir", "", "directory to write the raw search bundle and log file to")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
