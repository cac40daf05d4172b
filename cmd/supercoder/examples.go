package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashureev/supercoder/internal/examples"
)

func newExamplesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "List the built-in example programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range examples.Catalog() {
				fmt.Printf("%-20s %s\n", p.ID, p.Title)
			}
			return nil
		},
	}
}
