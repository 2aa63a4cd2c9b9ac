package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalogsync/internal/prefs"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Read and write durable preferences",
}

var prefsMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the preferences table",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openPrefs(cmd)
		if err != nil {
			return err
		}
		defer b.Close() //nolint:errcheck
		fmt.Fprintf(cmd.OutOrStdout(), "%s preferences migrated\n", cfg.Prefs.Driver)
		return nil
	},
}

var prefsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored preference keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openPrefs(cmd)
		if err != nil {
			return err
		}
		defer b.Close() //nolint:errcheck

		keys, err := b.Keys(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "list preferences")
		}
		prefix := cfg.Prefs.Namespace + ":"
		for _, k := range keys {
			if name, ok := strings.CutPrefix(k, prefix); ok {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		}
		return nil
	},
}

var prefsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a stored preference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := durableKey(args[0])
		if err != nil {
			return err
		}
		b, err := openPrefs(cmd)
		if err != nil {
			return err
		}
		defer b.Close() //nolint:errcheck

		raw, ok, err := b.Load(cmd.Context(), key)
		if err != nil {
			return eris.Wrapf(err, "load %s", args[0])
		}
		if !ok {
			return eris.Errorf("preference %s is not set", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <json>",
	Short: "Store a preference value given as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := durableKey(args[0])
		if err != nil {
			return err
		}
		if !json.Valid([]byte(args[1])) {
			return eris.Errorf("value for %s must be JSON", args[0])
		}
		b, err := openPrefs(cmd)
		if err != nil {
			return err
		}
		defer b.Close() //nolint:errcheck
		return eris.Wrapf(b.Save(cmd.Context(), key, []byte(args[1])), "save %s", args[0])
	},
}

var prefsDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a stored preference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := durableKey(args[0])
		if err != nil {
			return err
		}
		b, err := openPrefs(cmd)
		if err != nil {
			return err
		}
		defer b.Close() //nolint:errcheck
		return eris.Wrapf(b.Delete(cmd.Context(), key), "delete %s", args[0])
	},
}

func openPrefs(cmd *cobra.Command) (durableBackend, error) {
	if err := cfg.Validate("cli"); err != nil {
		return nil, err
	}
	return initDurable(cmd.Context())
}

// durableKey returns the storage key of a durable preference name.
func durableKey(name string) (string, error) {
	k, ok := prefs.LookupKey(name)
	if !ok {
		return "", eris.Errorf("unknown preference %q", name)
	}
	if k.Tier != prefs.Durable {
		return "", eris.Errorf("preference %s is not durable", name)
	}
	return cfg.Prefs.Namespace + ":" + k.Name, nil
}

func init() {
	prefsCmd.AddCommand(prefsMigrateCmd, prefsListCmd, prefsGetCmd, prefsSetCmd, prefsDeleteCmd)
	rootCmd.AddCommand(prefsCmd)
}
