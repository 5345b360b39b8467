package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	sqlsource "github.com/vango-go/vango-sqlsource"
)

// checkResult is the per-source outcome of the check command.
type checkResult struct {
	Alias    string `json:"alias"`
	Address  string `json:"address"`
	Database string `json:"database"`
	Status   string `json:"status"`
	Pooled   bool   `json:"pooled"`
	Error    string `json:"error,omitempty"`
	Latency  string `json:"latency"`
}

// newCheckCmd creates the check subcommand
func newCheckCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check [alias...]",
		Short: "Acquire and ping a connection from each source",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry()
			if err != nil {
				return err
			}
			defer reg.Shutdown()

			aliases := args
			if len(aliases) == 0 {
				aliases = reg.Aliases()
			}

			results := runCheck(cmd.Context(), reg, aliases, timeout)
			if err := writeResults(cmd.OutOrStdout(), results, jsonOutput); err != nil {
				return err
			}

			for _, r := range results {
				if r.Status != "ok" {
					return fmt.Errorf("%d source(s) failed", countFailed(results))
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per-source acquire timeout")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

func openRegistry() (*sqlsource.Registry, error) {
	settings, err := sqlsource.SettingsFromEnv()
	if err != nil {
		return nil, err
	}
	return sqlsource.LoadRegistryFile(configPath, settings, sqlsource.WithLogger(newLogger()))
}

// sourceAddr brackets IPv6 literals.
func sourceAddr(src *sqlsource.Source) string {
	return net.JoinHostPort(src.Address(), strconv.Itoa(src.Port()))
}

func runCheck(ctx context.Context, reg *sqlsource.Registry, aliases []string, timeout time.Duration) []checkResult {
	if ctx == nil {
		ctx = context.Background()
	}

	results := make([]checkResult, 0, len(aliases))
	for _, alias := range aliases {
		src, ok := reg.Get(alias)
		if !ok {
			results = append(results, checkResult{Alias: alias, Status: "unknown", Error: "no such source"})
			continue
		}

		r := checkResult{
			Alias:    alias,
			Address:  sourceAddr(src),
			Database: src.Database(),
		}

		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		_, err := sqlsource.HealthCheck(checkCtx, src)
		cancel()

		r.Latency = time.Since(start).Round(time.Millisecond).String()
		r.Pooled = src.Pooled()
		if err != nil {
			r.Status = "failed"
			r.Error = err.Error()
		} else {
			r.Status = "ok"
		}
		results = append(results, r)
	}
	return results
}

func countFailed(results []checkResult) int {
	n := 0
	for _, r := range results {
		if r.Status != "ok" {
			n++
		}
	}
	return n
}

func writeResults(w io.Writer, results []checkResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for _, r := range results {
		fmt.Fprintf(w, "%-12s %-8s %s/%s", r.Alias, r.Status, r.Address, r.Database)
		if r.Status == "ok" {
			fmt.Fprintf(w, " pooled=%v latency=%s", r.Pooled, r.Latency)
		}
		if r.Error != "" {
			fmt.Fprintf(w, " error=%q", r.Error)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// newListCmd creates the list subcommand
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Validate the sources file and list configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry()
			if err != nil {
				return err
			}
			defer reg.Shutdown()

			out := cmd.OutOrStdout()
			for _, alias := range reg.Aliases() {
				src, _ := reg.Get(alias)
				tz, ok := src.TimeZone()
				if !ok {
					tz = "-"
				}
				fmt.Fprintf(out, "%-12s %s/%s user=%s ssl=%v tz=%s\n",
					alias, sourceAddr(src), src.Database(), src.Username(), src.UseSSL(), tz)
			}
			return nil
		},
	}
}

