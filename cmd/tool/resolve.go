package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/tool/internal/prepare"
	"github.com/nupi-ai/tool/internal/resources"
	"github.com/nupi-ai/tool/internal/subst"
)

func newResolveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <reference|path>",
		Short: "Print the fully substituted execution spec for a tool",
		Long: `Resolve a tool, fill its user and system configuration, apply platform
overrides and print the resulting command. Saved configuration is used
unless overridden with -k key=value.`,
		Args: cobra.ExactArgs(1),
		RunE: runResolve,
	}
	cmd.Flags().StringArrayP("key", "k", nil, "User config value as key=value (repeatable)")
	cmd.Flags().Bool("save", false, "Persist -k values for later runs")
	cmd.Flags().StringP("format", "f", "json", "Output format: json or yaml")
	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := newOutputFormatter(cmd)

	format, _ := cmd.Flags().GetString("format")
	if out.jsonMode {
		format = "json"
	}
	if format != "json" && format != "yaml" {
		return fmt.Errorf("unsupported format %q (want json or yaml)", format)
	}
	pairs, _ := cmd.Flags().GetStringArray("key")
	overrides, err := parseKeyValues(pairs)
	if err != nil {
		return err
	}
	save, _ := cmd.Flags().GetBool("save")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	loc, err := newLocator(cmd, cfg)
	if err != nil {
		return err
	}

	progress(cmd, "resolving %s", args[0])
	bundle, err := resolveBundle(ctx, loc, args[0])
	if err != nil {
		return err
	}
	progress(cmd, "using %s (%s)", bundle.Ref, bundle.Dir())

	p := &prepare.Preparer{
		Resolver:  loc,
		Allocator: resources.Allocator{DataRoot: cfg.DataRoot, TempRoot: cfg.TempRoot},
		Bindings:  subst.Bindings{HostDir: subst.UserHostDir},
	}
	store, err := openStore(ctx, cfg, save)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		p.Store = store
	}

	spec, err := p.PrepareBundle(ctx, bundle, prepare.Request{Overrides: overrides, Save: save})
	if err != nil {
		return err
	}
	if save && len(overrides) > 0 {
		progress(cmd, "saved %d value(s) for %s", len(overrides), bundle.Ref.Key())
	}

	if format == "yaml" {
		return out.PrintYAML(spec)
	}
	return out.Print(spec)
}

// parseKeyValues turns repeated key=value flags into a map. Later pairs win.
func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid config %q: expected key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}
