package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bwks/sherpa-sub001/internal/authsvc"
	"github.com/bwks/sherpa-sub001/internal/catalog"
)

func newBootstrapAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the default admin user without starting the daemon",
		Long: `Create or reset the admin user's password.

If SHERPA_ADMIN_PASSWORD is already set, that value is used. Otherwise, when
run from an interactive terminal, the password is prompted for without
echoing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			l := layout()
			if err := l.EnsureDirs(); err != nil {
				return err
			}

			if os.Getenv("SHERPA_ADMIN_PASSWORD") == "" {
				password, err := promptAdminPassword()
				if err != nil {
					return err
				}
				if password != "" {
					os.Setenv("SHERPA_ADMIN_PASSWORD", password)
					defer os.Unsetenv("SHERPA_ADMIN_PASSWORD")
				}
			}

			store, err := catalog.Open(l.CatalogDBFile())
			if err != nil {
				return fmt.Errorf("sherpad: open catalog: %w", err)
			}
			defer store.Close()

			if err := authsvc.SeedAdminUser(store); err != nil {
				return fmt.Errorf("sherpad: seed admin user: %w", err)
			}
			fmt.Println("sherpad: admin user bootstrapped")
			return nil
		},
	}
}

// promptAdminPassword reads a password from the controlling terminal without
// echoing it, or returns "" if stdin is not a terminal (e.g. scripted runs
// that rely on SHERPA_ADMIN_PASSWORD instead).
func promptAdminPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, "Admin password: ")
	data, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("sherpad: read password: %w", err)
	}
	return string(data), nil
}
