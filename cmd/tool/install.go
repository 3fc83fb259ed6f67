package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/tool/internal/locator"
	"github.com/nupi-ai/tool/internal/reference"
)

func newInstallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <namespace/name[@version]>",
		Short: "Download a tool from the registry into the first search root",
		Args:  cobra.ExactArgs(1),
		RunE:  runInstall,
	}
	cmd.Flags().Bool("force", false, "Install even when a matching version is already present")
	return cmd
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := newOutputFormatter(cmd)

	ref, err := reference.Parse(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := newRegistryClient(cfg)
	if err != nil {
		return err
	}
	loc := locator.New(locator.Options{SearchRoots: cfg.SearchRoots, Fetcher: client})

	if force, _ := cmd.Flags().GetBool("force"); !force {
		existing, err := loc.Resolve(ctx, ref)
		if err != nil {
			return err
		}
		if existing != nil {
			return out.Success(fmt.Sprintf("%s already installed at %s", existing.Ref, existing.Dir()), map[string]any{
				"reference": existing.Ref.String(),
				"path":      existing.Dir(),
				"installed": false,
			})
		}
	}

	progress(cmd, "fetching %s from %s", ref, client.URL())
	bundle, err := loc.Install(ctx, ref)
	if err != nil {
		return err
	}
	if bundle == nil {
		return fmt.Errorf("%s not found in registry %s", ref, client.URL())
	}
	return out.Success(fmt.Sprintf("Installed %s to %s", bundle.Ref, bundle.Dir()), map[string]any{
		"reference": bundle.Ref.String(),
		"path":      bundle.Dir(),
		"installed": true,
	})
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed tools",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
}

type listRow struct {
	Reference string `json:"reference"`
	Path      string `json:"path"`
	Root      string `json:"root"`
}

func runList(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	loc := locator.New(locator.Options{SearchRoots: cfg.SearchRoots})
	tools, err := loc.ListInstalled()
	if err != nil {
		return err
	}

	rows := make([]listRow, 0, len(tools))
	for _, t := range tools {
		rows = append(rows, listRow{Reference: t.Ref.String(), Path: t.Dir, Root: t.Root})
	}
	if out.jsonMode {
		return out.Print(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out.out, "No tools installed.")
		return nil
	}
	w := tabwriter.NewWriter(out.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tPATH")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\n", r.Reference, r.Path)
	}
	return w.Flush()
}

func newOrphansCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "orphans",
		Short: "Report entries under the search roots that hold no tool",
		Long:  "Report dangling symlinks, empty directories and directories without a manifest. Nothing is removed.",
		Args:  cobra.NoArgs,
		RunE:  runOrphans,
	}
}

func runOrphans(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	orphans, err := locator.New(locator.Options{SearchRoots: cfg.SearchRoots}).Orphans()
	if err != nil {
		return err
	}
	if out.jsonMode {
		if orphans == nil {
			orphans = []string{}
		}
		return out.Print(map[string]any{"orphans": orphans})
	}
	if len(orphans) == 0 {
		return out.Success("No orphaned entries.", nil)
	}
	for _, o := range orphans {
		out.Warn("%s", o)
	}
	return nil
}

func newSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the registry for tools",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}
	cmd.Flags().Int("limit", 20, "Maximum number of results")
	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	limit, _ := cmd.Flags().GetInt("limit")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := newRegistryClient(cfg)
	if err != nil {
		return err
	}
	results, err := client.Search(cmd.Context(), args[0], limit)
	if err != nil {
		return err
	}
	if out.jsonMode {
		return out.Print(results)
	}
	if len(results) == 0 {
		fmt.Fprintf(out.out, "No tools match %q.\n", args[0])
		return nil
	}
	w := tabwriter.NewWriter(out.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tLATEST\tDOWNLOADS\tDESCRIPTION")
	for _, r := range results {
		fmt.Fprintf(w, "%s/%s\t%s\t%d\t%s\n", r.Namespace, r.Name, r.LatestVersion, r.TotalDownloads, r.Description)
	}
	return w.Flush()
}
