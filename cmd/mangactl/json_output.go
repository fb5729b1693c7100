package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// writeJSON печатает v в stdout команды с отступами.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
