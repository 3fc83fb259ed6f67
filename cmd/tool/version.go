package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/tool/internal/platform"
	toolversion "github.com/nupi-ai/tool/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the client version",
		Args:  cobra.NoArgs,
		RunE:  runVersion,
	}
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	v := toolversion.String()
	if out.jsonMode {
		return out.Print(map[string]any{
			"version":    v,
			"user_agent": toolversion.UserAgent(),
			"platform":   platform.Detect().Key(),
		})
	}
	fmt.Fprintf(out.out, "tool %s (%s)\n", toolversion.FormatVersion(v), platform.Detect().Key())
	return nil
}
