package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xyzzy121/Unicopia/abilities/builtin"
	"github.com/xyzzy121/Unicopia/abilities/catalog"
)

// NewCatalogCmd creates the catalog command group.
func NewCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect designer ability catalogs",
	}
	cmd.AddCommand(newCatalogSchemaCmd())
	cmd.AddCommand(newCatalogCheckCmd())
	return cmd
}

func newCatalogSchemaCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema for catalog files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := catalog.MarshalSchema()
			if err != nil {
				return err
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the schema to a file instead of stdout")
	return cmd
}

func newCatalogCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [files...]",
		Short: "Validate catalog files against the built-in abilities",
		Long: `Check parses each catalog file, rejects unknown or duplicate
abilities, and prints the timing every ability resolves to.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				paths = catalog.DefaultPaths()
			}
			for _, path := range paths {
				if _, err := os.Stat(path); err != nil {
					cmd.PrintErrf("skipping %s: %v\n", path, err)
				}
			}
			resolver, err := catalog.Load(builtin.Registry(), paths...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			resolved := resolver.Apply(builtin.Registry())
			enabled := make(map[string]bool, len(resolved))
			for _, desc := range resolved {
				enabled[desc.ID] = true
				fmt.Fprintf(out, "%s\twarmup=%d\tcooldown=%d\n", desc.ID, desc.WarmupFor(nil), desc.CooldownFor(nil))
			}
			for _, desc := range builtin.Registry() {
				if !enabled[desc.ID] {
					fmt.Fprintf(out, "%s\tdisabled\n", desc.ID)
				}
			}
			return nil
		},
	}
}
