package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	xhttp "FlowScope/pkg/http"
)

type statusReport struct {
	Health json.RawMessage `json:"health"`
	Coins  json.RawMessage `json:"coins"`
}

func newStatusCmd() *cobra.Command {
	var addr string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health and tracked coins of a running FlowScope API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := xhttp.NewClient(xhttp.WithBaseURL(addr), xhttp.WithTimeout(timeout))
			return status(cmd, c, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "API base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func status(cmd *cobra.Command, c *xhttp.Client, w io.Writer) error {
	var report statusReport
	if err := c.Get(cmd.Context(), "/healthz", nil, &report.Health); err != nil {
		return fmt.Errorf("healthz: %w", err)
	}
	if err := c.Get(cmd.Context(), "/api/coins", nil, &report.Coins); err != nil {
		return fmt.Errorf("coins: %w", err)
	}
	return writeJSON(w, report)
}
