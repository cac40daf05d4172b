package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the supercoder version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("supercoder " + version)
		},
	}
}
