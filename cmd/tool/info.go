package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/tool/internal/manifest"
	"github.com/nupi-ai/tool/internal/platform"
	"github.com/nupi-ai/tool/internal/subst"
	"github.com/nupi-ai/tool/internal/util/maps"
)

func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <reference|path>",
		Short: "Show a tool's manifest summary and the config keys it uses",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}
}

type configFieldInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Required   bool   `json:"required"`
	Sensitive  bool   `json:"sensitive,omitempty"`
	Default    string `json:"default,omitempty"`
	Referenced bool   `json:"referenced"`
}

type toolInfo struct {
	Reference    string            `json:"reference"`
	Name         string            `json:"name,omitempty"`
	Version      string            `json:"version,omitempty"`
	Description  string            `json:"description,omitempty"`
	Transport    string            `json:"transport"`
	Path         string            `json:"path"`
	UserConfig   []configFieldInfo `json:"user_config"`
	SystemConfig []configFieldInfo `json:"system_config"`
	Platforms    []string          `json:"platform_overrides,omitempty"`
	// Undeclared lists config keys referenced by templates but absent from
	// the schema.
	Undeclared []string `json:"undeclared,omitempty"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	loc, err := newLocator(cmd, cfg)
	if err != nil {
		return err
	}
	bundle, err := resolveBundle(cmd.Context(), loc, args[0])
	if err != nil {
		return err
	}

	info := describeManifest(bundle.Manifest)
	info.Reference = bundle.Ref.String()
	info.Path = bundle.Dir()

	if out.jsonMode {
		return out.Print(info)
	}
	printToolInfo(out.out, info)
	return nil
}

// describeManifest summarises m and cross-checks its templates against the
// declared config schemas.
func describeManifest(m *manifest.Manifest) toolInfo {
	userRefs, systemRefs := subst.References(templateStrings(m.Server.MCPConfig)...)
	userSet := toSet(userRefs)
	systemSet := toSet(systemRefs)

	info := toolInfo{
		Name:        m.Name,
		Version:     m.Version,
		Description: m.Description,
		Transport:   string(m.TransportOrDefault()),
	}
	for _, name := range maps.SortedKeys(m.UserConfig) {
		f := m.UserConfig[name]
		fi := configFieldInfo{Name: name, Type: string(f.Type), Required: f.Required, Sensitive: f.Sensitive, Referenced: userSet[name]}
		if f.Default != nil {
			fi.Default = manifest.DefaultString(f.Default)
		}
		info.UserConfig = append(info.UserConfig, fi)
		delete(userSet, name)
	}
	for _, name := range maps.SortedKeys(m.SystemConfig) {
		f := m.SystemConfig[name]
		fi := configFieldInfo{Name: name, Type: string(f.Type), Required: f.Required, Referenced: systemSet[name]}
		if f.Default != nil {
			fi.Default = manifest.DefaultString(f.Default)
		}
		info.SystemConfig = append(info.SystemConfig, fi)
		delete(systemSet, name)
	}
	for _, k := range maps.SortedKeys(userSet) {
		info.Undeclared = append(info.Undeclared, "user_config."+k)
	}
	for _, k := range maps.SortedKeys(systemSet) {
		info.Undeclared = append(info.Undeclared, "system_config."+k)
	}
	if m.Server.MCPConfig != nil {
		info.Platforms = maps.SortedKeys(m.Server.MCPConfig.PlatformOverrides)
	}
	return info
}

// templateStrings collects every string of c, including platform overrides,
// that may carry placeholders.
func templateStrings(c *manifest.MCPConfig) []string {
	if c == nil {
		return nil
	}
	strs := []string{c.Command, c.URL}
	strs = append(strs, c.Args...)
	for _, v := range c.Env {
		strs = append(strs, v)
	}
	for _, v := range c.Headers {
		strs = append(strs, v)
	}
	for _, o := range c.PlatformOverrides {
		strs = append(strs, o.Command, o.URL)
		strs = append(strs, o.Args...)
		for _, v := range o.Env {
			strs = append(strs, v)
		}
		for _, v := range o.Headers {
			strs = append(strs, v)
		}
	}
	return strs
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

func printToolInfo(w io.Writer, info toolInfo) {
	fmt.Fprintf(w, "Tool:      %s\n", info.Reference)
	if info.Version != "" {
		fmt.Fprintf(w, "Version:   %s\n", info.Version)
	}
	if info.Description != "" {
		fmt.Fprintf(w, "About:     %s\n", info.Description)
	}
	fmt.Fprintf(w, "Transport: %s\n", info.Transport)
	fmt.Fprintf(w, "Path:      %s\n", info.Path)
	if len(info.Platforms) > 0 {
		fmt.Fprintf(w, "Platforms: %v\n", info.Platforms)
	}

	printFields(w, "User config", info.UserConfig)
	printFields(w, "System config", info.SystemConfig)
	for _, u := range info.Undeclared {
		fmt.Fprintf(w, "%s template references undeclared %s\n", warnMark, u)
	}
}

func printFields(w io.Writer, title string, fields []configFieldInfo) {
	if len(fields) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  KEY\tTYPE\tREQUIRED\tDEFAULT\tUSED")
	for _, f := range fields {
		typ := f.Type
		if f.Sensitive {
			typ += " (sensitive)"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%t\t%s\t%t\n", f.Name, typ, f.Required, f.Default, f.Referenced)
	}
	tw.Flush()
}

func newPlatformCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "platform",
		Short: "Print the platform key used to select manifest overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := newOutputFormatter(cmd)
			h := platform.Detect()
			if out.jsonMode {
				return out.Print(map[string]string{"os": h.OS, "arch": h.Arch, "key": h.Key()})
			}
			fmt.Fprintln(out.out, h.Key())
			return nil
		},
	}
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the manifest JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := manifest.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	}
}
