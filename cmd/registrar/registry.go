package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"registrar/internal/app"
	"registrar/internal/handler"
)

// NewRegistryCmd creates the registry command.
func NewRegistryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Print the extractor registry and check it resolves",
		Long: `Registry prints each category with its ordered extractors, after applying
pipeline.registry_file, and fails when an extractor has no signature in the
catalog.`,
		Args: cobra.NoArgs,
		RunE: runRegistryCmd,
	}
	cmd.Flags().BoolP("json", "j", false, "Output the registry as JSON")
	return cmd
}

func runRegistryCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	catalog, err := app.LoadCatalog(cfg.Pipeline)
	if err != nil {
		return err
	}
	reg, err := app.LoadRegistry(cfg.Pipeline)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		entries := make([]handler.RegistryEntry, 0)
		for _, cat := range reg.Categories() {
			ids, _ := reg.Lookup(cat)
			entries = append(entries, handler.RegistryEntry{Category: string(cat), Extractors: ids})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return err
		}
	} else {
		for _, cat := range reg.Categories() {
			ids, _ := reg.Lookup(cat)
			fmt.Fprintf(out, "%-11s %s\n", cat, strings.Join(ids, ", "))
		}
		fmt.Fprintf(out, "%d signatures in catalog\n", catalog.Len())
	}

	if err := reg.Resolve(catalog); err != nil {
		return fmt.Errorf("registry does not resolve:\n%w", err)
	}
	return nil
}
