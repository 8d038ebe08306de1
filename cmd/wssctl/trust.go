package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucas/securewss/internal/app"
	"github.com/lucas/securewss/internal/config"
	"github.com/lucas/securewss/internal/store"
	"github.com/lucas/securewss/internal/trust"
)

func trustCmd() *cobra.Command {
	baseCmd := &cobra.Command{
		Use:   "trust",
		Short: "Manage the local trust stores",
		Long: `Stores are addressed by number or name: 1 AddressBook, 2 AuthRoot,
3 CertificateAuthority, 4 Disallowed, 5 My, 6 Root, 7 TrustedPeople,
8 TrustedPublisher.`,
	}

	baseCmd.AddCommand(trustInstallCmd())
	baseCmd.AddCommand(trustListCmd())

	return baseCmd
}

// trustTarget resolves the store from args and flags, falling back to the
// configured target.
func trustTarget(cfg *config.Config, args []string, location string) (trust.StoreName, trust.StoreLocation, error) {
	tc := cfg.Trust
	if len(args) > 0 {
		tc.Store = args[0]
	}
	if location != "" {
		tc.Location = location
	}
	return tc.TrustTarget()
}

func trustInstallCmd() *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:   "install [store]",
		Short: "Install the root CA into a trust store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			name, loc, err := trustTarget(cfg, args, location)
			if err != nil {
				return err
			}

			root, err := store.NewFileStore(cfg.CA.CertDir, cfg.CA.ExportPassword).Load(cfg.CA.RootName)
			if err != nil {
				return fmt.Errorf("failed to load root CA: %w", err)
			}

			fmt.Printf("🔐 Installing '%s' into %s/%s...\n", root.Subject(), loc, name)
			if err := app.NewTrustStore(cfg, cliLogger()).Install(root, name, loc); err != nil {
				return err
			}
			fmt.Println("✅ Root CA installed")
			return nil
		},
	}

	cmd.Flags().StringVarP(&location, "location", "l", "", "Store location: CurrentUser or LocalMachine (defaults to config)")

	return cmd
}

func trustListCmd() *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:   "list [store]",
		Short: "List currently valid certificates in a trust store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			name, loc, err := trustTarget(cfg, args, location)
			if err != nil {
				return err
			}

			certs, err := app.NewTrustStore(cfg, cliLogger()).List(name, loc, time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("📜 %s/%s: %d valid certificate(s)\n", loc, name, len(certs))
			for _, cert := range certs {
				fmt.Printf("   %x  %s  (expires %s)\n", cert.SerialNumber, cert.Subject.String(), cert.NotAfter.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&location, "location", "l", "", "Store location: CurrentUser or LocalMachine (defaults to config)")

	return cmd
}
