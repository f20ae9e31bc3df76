package ctl

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show correlation pipeline statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats map[string]interface{}
		if err := getJSON("/api/v1/stats", &stats); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

var verdictsCmd = &cobra.Command{
	Use:   "verdicts",
	Short: "Show recently emitted verdicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Verdicts []json.RawMessage `json:"verdicts"`
			Count    int               `json:"count"`
		}
		if err := getJSON("/api/v1/verdicts", &out); err != nil {
			return err
		}

		fmt.Printf("%d recent verdicts\n", out.Count)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		for _, v := range out.Verdicts {
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
		return nil
	},
}
