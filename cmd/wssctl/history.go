package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucas/securewss/internal/journal"
)

func historyCmd() *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show issued certificates, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("journal is disabled in %s", configPath)
			}

			j, err := journal.Open(cfg.Journal.Path, true)
			if err != nil {
				return err
			}
			defer j.Close()

			records, err := j.List(limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			if len(records) == 0 {
				fmt.Println("No certificates issued yet")
				return nil
			}
			for _, r := range records {
				fmt.Printf("%s  %-11s %-15s %s  serial=%s  expires=%s\n",
					r.IssuedAt.Local().Format(time.DateTime), r.Kind, r.Reason, r.Subject, r.Serial,
					r.NotAfter.Format(time.DateOnly))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of records (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")

	return cmd
}
