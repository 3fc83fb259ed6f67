package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nupi-ai/tool/internal/config"
	"github.com/nupi-ai/tool/internal/locator"
	"github.com/nupi-ai/tool/internal/registry"
	"github.com/nupi-ai/tool/internal/toolconfig"
	toolversion "github.com/nupi-ai/tool/internal/version"
)

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	warnMark = color.New(color.FgYellow).Sprint("!")
	stepMark = color.New(color.FgCyan).Sprint("→")
)

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
	out      io.Writer
	errOut   io.Writer
}

// newOutputFormatter creates a new formatter based on the command's --json flag
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
}

// Print outputs data as indented JSON.
func (f *OutputFormatter) Print(data any) error {
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(f.out, string(jsonBytes))
	return nil
}

// PrintYAML outputs data as YAML.
func (f *OutputFormatter) PrintYAML(data any) error {
	enc := yaml.NewEncoder(f.out)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return enc.Close()
}

// Success outputs a success message
func (f *OutputFormatter) Success(message string, data map[string]any) error {
	if f.jsonMode {
		output := map[string]any{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Fprintf(f.out, "%s %s\n", okMark, message)
	return nil
}

// Warn writes a warning line to stderr.
func (f *OutputFormatter) Warn(format string, args ...any) {
	fmt.Fprintf(f.errOut, "%s %s\n", warnMark, fmt.Sprintf(format, args...))
}

// progress writes a step line to stderr when --verbose is set.
func progress(cmd *cobra.Command, format string, args ...any) {
	if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", stepMark, fmt.Sprintf(format, args...))
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tool",
		Short: "Install, configure and resolve MCP tool bundles",
		Long: `tool locates MCP tool bundles on disk or in a registry and turns their
manifests into ready-to-run command specifications.

References have the form [namespace/]name[@version], for example
acme/weather@^1.2.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Version = toolversion.FormatVersion(toolversion.String())
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	root.PersistentFlags().Bool("json", false, "Output in JSON format")
	root.PersistentFlags().String("config", "", "Path to a config file (.toml or .yaml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "Print progress to stderr")
	root.PersistentFlags().Bool("no-auto-install", false, "Never download missing tools from the registry")

	root.AddCommand(
		newResolveCommand(),
		newInstallCommand(),
		newListCommand(),
		newOrphansCommand(),
		newSearchCommand(),
		newInfoCommand(),
		newConfigCommand(),
		newPlatformCommand(),
		newSchemaCommand(),
		newVersionCommand(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed).Sprint("✗"), err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration honoring --config and
// --no-auto-install.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(config.Options{ConfigFile: file})
	if err != nil {
		return nil, err
	}
	if noAuto, _ := cmd.Flags().GetBool("no-auto-install"); noAuto {
		cfg.AutoInstall = false
	}
	if cfg.Source != "" {
		progress(cmd, "using config %s", cfg.Source)
	}
	return cfg, nil
}

func newRegistryClient(cfg *config.Config) (*registry.Client, error) {
	return registry.New(cfg.RegistryURL,
		registry.WithToken(cfg.RegistryToken),
		registry.WithTempDir(cfg.TempRoot),
	)
}

// newLocator builds a locator over the configured roots, backed by the
// registry for installs.
func newLocator(cmd *cobra.Command, cfg *config.Config) (*locator.Locator, error) {
	client, err := newRegistryClient(cfg)
	if err != nil {
		return nil, err
	}
	progress(cmd, "search roots: %s", strings.Join(cfg.SearchRoots, ", "))
	return locator.New(locator.Options{
		SearchRoots: cfg.SearchRoots,
		Fetcher:     client,
		AutoInstall: cfg.AutoInstall,
	}), nil
}

// openStore opens the saved-config database. Unless create is set, a
// missing database is not an error and nil is returned.
func openStore(ctx context.Context, cfg *config.Config, create bool) (*toolconfig.Store, error) {
	if !create {
		if _, err := os.Stat(cfg.ConfigDB); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
	}
	return toolconfig.Open(ctx, toolconfig.Options{DBPath: cfg.ConfigDB})
}

// resolveBundle resolves a reference or bundle path, mapping not-found to an
// error with an install hint.
func resolveBundle(ctx context.Context, loc *locator.Locator, target string) (*locator.ResolvedBundle, error) {
	if locator.IsPath(target) {
		return locator.LoadFromPath(config.ExpandPath(target))
	}
	b, err := loc.ResolveString(ctx, target)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("tool %s not found; install it with `tool install <namespace/name>`", target)
	}
	return b, nil
}
