package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/bidkit/internal/config"
	"github.com/hyperengineering/bidkit/internal/loader"
	"github.com/hyperengineering/bidkit/pkg/bidapi"
)

var (
	apiURLOverride string
	jsonOutput     bool
)

// timeNow is replaced in tests.
var timeNow = time.Now

// addClientFlags registers the flags shared by every backend subcommand.
func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&apiURLOverride, "api-url", "",
		"Backend origin (overrides config and BIDKIT_API_URL)")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")
}

// resolveConfig loads the configuration and applies the --api-url override.
func resolveConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if apiURLOverride != "" {
		cfg.API.BaseURL = apiURLOverride
	}
	return cfg, nil
}

// resolveClient creates a backend client from the resolved configuration.
func resolveClient() (*bidapi.Client, *config.Config, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := bidapi.New(bidapi.Config{
		BaseURL: cfg.API.BaseURL,
		APIKey:  cfg.API.APIKey,
		Timeout: cfg.API.Timeout.Std(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create api client: %w", err)
	}
	return client, cfg, nil
}

func loaderOptions(cfg *config.Config) loader.Options {
	return loader.Options{PageSize: cfg.Loader.PageSize, Concurrency: cfg.Loader.Concurrency}
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// writeFile writes data to path, or to w when path is "-".
func writeFile(w io.Writer, path string, data []byte) error {
	if path == "-" {
		_, err := w.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
