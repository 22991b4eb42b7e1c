package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"registrar/internal/normalize"
)

// NewNormalizeCmd creates the normalize command.
func NewNormalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize FILE",
		Short: "Normalize a saved prediction into a plain JSON document",
		Long: `Normalize reads a JSON value, drops internal bookkeeping keys and prints
the plain document. With --key, a top-level array is printed as an object
keyed by that field of each element.

Examples:
  registrar normalize prediction.json
  registrar normalize --keep-private --exclude raw predictions.json
  registrar normalize --key name predictions.json`,
		Args: cobra.ExactArgs(1),
		RunE: runNormalizeCmd,
	}
	cmd.Flags().Bool("keep-private", false, "Keep keys starting with "+normalize.PrivatePrefix)
	cmd.Flags().StringSlice("exclude", nil, "Additional keys to drop (repeatable)")
	cmd.Flags().Bool("lenient", false, "Pass unsupported values through instead of failing")
	cmd.Flags().StringP("key", "k", "", "Key a top-level array by this element field")
	return cmd
}

func runNormalizeCmd(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return fmt.Errorf("decoding %s: %w", args[0], err)
	}

	opts := normalize.DefaultOptions()
	if keep, _ := cmd.Flags().GetBool("keep-private"); keep {
		opts.ExcludePrivate = false
	}
	if extra, _ := cmd.Flags().GetStringSlice("exclude"); len(extra) > 0 {
		opts.ExcludeKeys = append(opts.ExcludeKeys, extra...)
	}
	if lenient, _ := cmd.Flags().GetBool("lenient"); lenient {
		opts.Strict = false
	}

	var out []byte
	key, _ := cmd.Flags().GetString("key")
	if items, ok := value.([]any); ok && key != "" {
		out, err = normalize.DumpMany(items, fieldKey(key), opts)
	} else {
		var doc any
		doc, err = normalize.Dump(value, opts)
		if err == nil {
			out, err = json.MarshalIndent(doc, "", "  ")
		}
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

// fieldKey keys each element by its string field name.
func fieldKey(name string) normalize.KeyFunc {
	return func(v any, _ int) (string, bool) {
		m, ok := v.(map[string]any)
		if !ok {
			return "", false
		}
		s, ok := m[name].(string)
		return s, ok
	}
}
