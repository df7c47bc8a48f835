package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kolkov/lockless/lockfree"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print library version and build information",
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print version information as JSON")
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, _ []string) error {
	info := lockfree.GetInfo()
	if versionJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprint(cmd.OutOrStdout(), versionString(info))
	return nil
}

func versionString(info lockfree.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "lockless %s\n", info.Version)
	fmt.Fprintf(&b, "  reclamation: %s\n", info.Reclamation)
	fmt.Fprintf(&b, "  containers:  %s\n", strings.Join(info.Containers, ", "))
	return b.String()
}
