package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucas/securewss/internal/app"
	"github.com/lucas/securewss/internal/lifecycle"
	"github.com/lucas/securewss/internal/pki"
	"github.com/lucas/securewss/internal/store"
)

func certCmd() *cobra.Command {
	baseCmd := &cobra.Command{
		Use:   "cert",
		Short: "Manage the root CA and the server certificate",
		Long:  `Run certificate passes and inspect the credentials kept in the certificate directory.`,
	}

	baseCmd.AddCommand(certCreateCmd())
	baseCmd.AddCommand(certStatusCmd())
	baseCmd.AddCommand(certSelfSignedCmd())

	return baseCmd
}

func certCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Run a certificate pass now",
		Long: `Creates the root CA and the server certificate when missing and reissues
the server certificate when it is expired or close to expiry.

The pass takes the certificate directory lock shared with wssd, so it is
refused while the daemon is in the middle of a pass. A certificate written
here is served by a running daemon after its HTTPS endpoint restarts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			components, err := app.Build(cfg, cliLogger())
			if err != nil {
				return err
			}
			defer components.Close()

			fmt.Printf("🔐 Running certificate pass in '%s'...\n", cfg.CA.CertDir)
			res, ran := components.Manager.TryPass(cmd.Context())
			if !ran {
				return fmt.Errorf("another certificate pass holds %s, try again shortly", cfg.CA.CertDir)
			}
			if res.Err != nil {
				return res.Err
			}

			fmt.Println("✅ Pass completed")
			fmt.Printf("   Root:   %s\n", res.Root)
			fmt.Printf("   Server: %s (%s, expires %s)\n", res.Leaf, res.Decision, res.NotAfter.Format(time.RFC3339))
			if res.Leaf == lifecycle.ActionIssued || res.Leaf == lifecycle.ActionReissued {
				fmt.Println("   A running daemon serves the new certificate after its next restart.")
			}
			return nil
		},
	}
}

func certStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current root and server certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			s := store.NewFileStore(cfg.CA.CertDir, cfg.CA.ExportPassword)
			now := time.Now()

			root := showCredential(s, "Root CA", cfg.CA.RootName, cfg.CA.RenewBefore, now)
			leaf := showCredential(s, "Server", cfg.CA.LeafName, cfg.CA.RenewBefore, now)

			if root != nil && leaf != nil {
				if err := leaf.Certificate.CheckSignatureFrom(root.Certificate); err != nil {
					fmt.Println("⚠️  Server certificate is not signed by the current root")
				}
			}
			return nil
		},
	}
}

func showCredential(s *store.FileStore, label, name string, window time.Duration, now time.Time) *pki.Credential {
	bundle, _ := s.Paths(name)
	if !s.Exists(name) {
		fmt.Printf("📜 %s: missing (%s)\n", label, bundle)
		return nil
	}

	cred, err := s.Load(name)
	if err != nil {
		fmt.Printf("📜 %s: unreadable (%v)\n", label, err)
		return nil
	}

	cert := cred.Certificate
	fmt.Printf("📜 %s: %s\n", label, cred.Subject())
	fmt.Printf("   File:     %s\n", bundle)
	fmt.Printf("   Issuer:   %s\n", cert.Issuer.String())
	fmt.Printf("   Serial:   %x\n", cert.SerialNumber)
	fmt.Printf("   Valid:    %s - %s\n", cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339))
	fmt.Printf("   State:    %s\n", lifecycle.Evaluate(cert.NotAfter, now, window))
	if len(cert.DNSNames) > 0 || len(cert.IPAddresses) > 0 {
		fmt.Printf("   SANs:     %v %v\n", cert.DNSNames, cert.IPAddresses)
	}
	return cred
}

func certSelfSignedCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "self-signed",
		Short: "Create a self-signed server certificate",
		Long:  `Creates a server certificate that is signed by its own key rather than the root CA.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if name == cfg.CA.RootName {
				return fmt.Errorf("refusing to overwrite the root CA %q", name)
			}

			components, err := app.Build(cfg, cliLogger())
			if err != nil {
				return err
			}
			defer components.Close()

			fmt.Printf("📜 Generating self-signed certificate '%s'...\n", name)
			cred, err := components.Manager.CreateSelfSigned(name)
			if err != nil {
				return err
			}

			bundle, pemPath := components.Store.Paths(name)
			fmt.Println("✅ Self-signed certificate generated successfully!")
			fmt.Printf("   Subject: %s (expires %s)\n", cred.Subject(), cred.NotAfter().Format(time.RFC3339))
			fmt.Printf("   Files: %s, %s\n", bundle, pemPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "selfSignedCert", "Store name of the certificate")

	return cmd
}
