package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/kbimage/catalog"
)

var catalogName string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Store and retrieve images in the local catalog",
}

var catalogAddCmd = &cobra.Command{
	Use:   "add <image>",
	Short: "Add an image file to the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		name := catalogName
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}
		return withCatalog(func(c *catalog.Catalog) error {
			e, err := c.Put(cmd.Context(), name, data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", paint(okStyle, "added"), paint(nameStyle, e.Name), paint(dimStyle, e.ID.String()))
			return nil
		})
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cataloged images",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(func(c *catalog.Catalog) error {
			entries, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(w, paint(dimStyle, "catalog is empty"))
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(w, "%-24s %s  %8d bytes  %6d exprs  %s\n",
					paint(nameStyle, e.Name), paint(dimStyle, e.ID.String()),
					e.Size, e.Expressions, e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		})
	},
}

var catalogGetCmd = &cobra.Command{
	Use:   "get <name|id> <out>",
	Short: "Write a cataloged image to a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(func(c *catalog.Catalog) error {
			_, data, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return os.WriteFile(args[1], data, 0o644)
		})
	},
}

var catalogRmCmd = &cobra.Command{
	Use:   "rm <name|id>",
	Short: "Remove an image from the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCatalog(func(c *catalog.Catalog) error {
			return c.Delete(cmd.Context(), args[0])
		})
	},
}

func init() {
	catalogAddCmd.Flags().StringVarP(&catalogName, "name", "n", "", "catalog name (default: file name without extension)")
	catalogCmd.AddCommand(catalogAddCmd, catalogListCmd, catalogGetCmd, catalogRmCmd)
}

func withCatalog(fn func(*catalog.Catalog) error) error {
	c, err := catalog.Open(cfg.Catalog.Path, logger.Named("catalog"))
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}
