package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/SanteonNL/fenix-sampleclient/cmd/sampleclient/client"
	"github.com/SanteonNL/fenix-sampleclient/cmd/sampleclient/config"
	"github.com/SanteonNL/fenix-sampleclient/cmd/sampleclient/output"
	"github.com/SanteonNL/fenix-sampleclient/cmd/sampleclient/patient"
	"github.com/SanteonNL/fenix-sampleclient/util"
	"github.com/rs/zerolog"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
	"github.com/spf13/cobra"
)

const sortedHeading = "---------Patient data Sorted by First Name --------------"

// searcher is the part of the FHIR client the run depends on
type searcher interface {
	SearchAll(ctx context.Context, resourceType string, query url.Values, maxPages int) (*fhir.Bundle, error)
}

// bundleWriter stores the raw search result
type bundleWriter interface {
	SaveJSON(v interface{}, name string) (string, error)
}

func runSearch(cmd *cobra.Command, _ []string) error {
	startTime := time.Now()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	var dump bundleWriter
	if cfg.OutputDir != "" {
		rd, err := output.NewRunDir(cfg.OutputDir, cmd.ErrOrStderr(), cfg.LogLevel)
		if err != nil {
			return err
		}
		defer rd.Close()
		log = rd.Logger()
		dump = rd
	}

	log.Debug().
		Str("base_url", cfg.BaseURL).
		Str("family", cfg.Family).
		Int("max_pages", cfg.MaxPages).
		Msg("Starting patient search")

	c := client.NewFHIRClient(cfg, log)
	if err := run(cmd.Context(), c, dump, cfg, cmd.OutOrStdout(), log); err != nil {
		log.Error().Err(err).Msg("Patient search failed")
		return err
	}

	log.Debug().Msgf("Execution time: %s", time.Since(startTime))
	return nil
}

// loadConfig reads the env file and environment, then applies the flags that
// were set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		abs, err := util.AbsolutePath(envFile)
		if err != nil {
			return config.Config{}, err
		}
		envFile = abs
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("family") {
		cfg.Family, _ = flags.GetString("family")
	}
	if flags.Changed("max-pages") {
		cfg.MaxPages, _ = flags.GetInt("max-pages")
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir, _ = flags.GetString("output-dir")
	}
	if flags.Changed("log-level") {
		s, _ := flags.GetString("log-level")
		if cfg.LogLevel, err = zerolog.ParseLevel(s); err != nil {
			return config.Config{}, fmt.Errorf("invalid log level %q: %w", s, err)
		}
	}

	return cfg, cfg.Validate()
}

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.NewConsoleWriter(func(cw *zerolog.ConsoleWriter) { cw.Out = w })).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
}

// run searches patients by family name and writes the unsorted and the sorted
// table to out.
func run(ctx context.Context, s searcher, dump bundleWriter, cfg config.Config, out io.Writer, log zerolog.Logger) error {
	bundle, err := s.SearchAll(ctx, patient.ResourceType, url.Values{"family": {cfg.Family}}, cfg.MaxPages)
	if err != nil {
		return fmt.Errorf("patient search failed: %w", err)
	}

	if dump != nil {
		path, err := dump.SaveJSON(bundle, "patient-search")
		if err != nil {
			return err
		}
		log.Info().Str("file", path).Msg("Saved search bundle")
	}

	patients, err := patient.ExtractPatients(bundle)
	if err != nil {
		return err
	}
	log.Info().
		Int("entries", len(bundle.Entry)).
		Int("patients", len(patients)).
		Msg("Search completed")

	if err := patient.Render(out, patients); err != nil {
		return err
	}

	sorted, err := patient.SortByFirstName(patients)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(out, "\n%s\n", sortedHeading); err != nil {
		return err
	}
	return patient.Render(out, sorted)
}
