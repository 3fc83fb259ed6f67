package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/nupi-ai/tool/internal/config"
	"github.com/nupi-ai/tool/internal/locator"
	"github.com/nupi-ai/tool/internal/manifest"
	"github.com/nupi-ai/tool/internal/reference"
	"github.com/nupi-ai/tool/internal/toolconfig"
)

const maskedValue = "********"

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage saved user configuration for tools",
	}

	setCmd := &cobra.Command{
		Use:   "set <reference> <key> [value]",
		Short: "Save a user config value (prompts when value is omitted)",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runConfigSet,
	}
	getCmd := &cobra.Command{
		Use:   "get <reference> <key>",
		Short: "Print a saved value",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigGet,
	}
	unsetCmd := &cobra.Command{
		Use:   "unset <reference> [key]",
		Short: "Remove a saved value, or all values with --all",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runConfigUnset,
	}
	unsetCmd.Flags().Bool("all", false, "Remove every saved value for the tool")
	listCmd := &cobra.Command{
		Use:   "list [reference]",
		Short: "List saved values for a tool, or tools with saved values",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigList,
	}
	listCmd.Flags().Bool("show-secrets", false, "Print sensitive values in clear text")

	cmd.AddCommand(setCmd, getCmd, unsetCmd, listCmd)
	return cmd
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := newOutputFormatter(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	loc, err := newLocator(cmd, cfg)
	if err != nil {
		return err
	}
	bundle, err := resolveBundle(ctx, loc, args[0])
	if err != nil {
		return err
	}
	key := args[1]
	field, ok := bundle.Manifest.UserConfig[key]
	if !ok {
		return fmt.Errorf("%s has no user_config field %q", bundle.Ref.Key(), key)
	}

	var value string
	if len(args) == 3 {
		value = args[2]
	} else {
		value, err = promptValue(cmd, key, field.Sensitive)
		if err != nil {
			return err
		}
	}
	if err := manifest.ValidateUserConfig(
		map[string]manifest.UserConfigField{key: field},
		map[string]string{key: value},
	); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer store.Close()

	tool := bundle.Ref.Key()
	if err := store.Set(ctx, tool, toolconfig.Entry{Key: key, Value: value, Sensitive: field.Sensitive}); err != nil {
		return err
	}
	return out.Success(fmt.Sprintf("Saved %s for %s", key, tool), map[string]any{
		"tool":      tool,
		"key":       key,
		"sensitive": field.Sensitive,
	})
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := newOutputFormatter(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	tool, err := toolKey(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	if store == nil {
		return toolconfig.NotFoundError{Entity: "config value", Key: tool + " " + args[1]}
	}
	defer store.Close()

	e, err := store.Get(ctx, tool, args[1])
	if err != nil {
		return err
	}
	if out.jsonMode {
		return out.Print(map[string]any{"tool": tool, "key": e.Key, "value": e.Value, "sensitive": e.Sensitive})
	}
	fmt.Fprintln(out.out, e.Value)
	return nil
}

func runConfigUnset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := newOutputFormatter(cmd)
	all, _ := cmd.Flags().GetBool("all")
	if all == (len(args) == 2) {
		return errors.New("pass either a key or --all")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	tool, err := toolKey(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer store.Close()

	if all {
		n, err := store.Delete(ctx, tool)
		if err != nil {
			return err
		}
		return out.Success(fmt.Sprintf("Removed %d value(s) for %s", n, tool), map[string]any{"tool": tool, "removed": n})
	}
	if err := store.Unset(ctx, tool, args[1]); err != nil {
		return err
	}
	return out.Success(fmt.Sprintf("Removed %s for %s", args[1], tool), map[string]any{"tool": tool, "key": args[1]})
}

type configRow struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Sensitive bool   `json:"sensitive"`
}

func runConfigList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := newOutputFormatter(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	if len(args) == 0 {
		var tools []string
		if store != nil {
			if tools, err = store.Tools(ctx); err != nil {
				return err
			}
		}
		if out.jsonMode {
			if tools == nil {
				tools = []string{}
			}
			return out.Print(map[string]any{"tools": tools})
		}
		if len(tools) == 0 {
			fmt.Fprintln(out.out, "No saved configuration.")
		}
		for _, t := range tools {
			fmt.Fprintln(out.out, t)
		}
		return nil
	}

	tool, err := toolKey(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	var entries []toolconfig.Entry
	if store != nil {
		if entries, err = store.List(ctx, tool); err != nil {
			return err
		}
	}
	showSecrets, _ := cmd.Flags().GetBool("show-secrets")
	rows := make([]configRow, 0, len(entries))
	for _, e := range entries {
		v := e.Value
		if e.Sensitive && !showSecrets {
			v = maskedValue
		}
		rows = append(rows, configRow{Key: e.Key, Value: v, Sensitive: e.Sensitive})
	}
	if out.jsonMode {
		return out.Print(map[string]any{"tool": tool, "values": rows})
	}
	if len(rows) == 0 {
		fmt.Fprintf(out.out, "No saved configuration for %s.\n", tool)
		return nil
	}
	w := tabwriter.NewWriter(out.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\n", r.Key, r.Value)
	}
	return w.Flush()
}

// toolKey returns the canonical storage key for s. Installed tools supply
// their inferred namespace; otherwise the reference is used as written.
func toolKey(ctx context.Context, cfg *config.Config, s string) (string, error) {
	if locator.IsPath(s) {
		b, err := locator.LoadFromPath(config.ExpandPath(s))
		if err != nil {
			return "", err
		}
		return b.Ref.Key(), nil
	}
	ref, err := reference.Parse(s)
	if err != nil {
		return "", err
	}
	if ref.HasNamespace() {
		return ref.Key(), nil
	}
	b, err := locator.New(locator.Options{SearchRoots: cfg.SearchRoots}).Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if b != nil {
		return b.Ref.Key(), nil
	}
	return ref.Key(), nil
}

// promptValue reads a value from stdin. Sensitive values are read without
// echo when stdin is a terminal.
func promptValue(cmd *cobra.Command, key string, sensitive bool) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && terminal.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: ", key)
		if sensitive {
			b, err := terminal.ReadPassword(int(f.Fd()))
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return "", fmt.Errorf("read %s: %w", key, err)
			}
			return string(b), nil
		}
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
