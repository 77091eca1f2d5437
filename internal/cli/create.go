package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/gokdbx/internal/credentials"
	"github.com/dmitrijs2005/gokdbx/internal/cryptox"
	"github.com/dmitrijs2005/gokdbx/internal/filex"
	"github.com/dmitrijs2005/gokdbx/internal/kdbx"
	"github.com/spf13/cobra"
)

func (a *App) createCmd() *cobra.Command {
	var (
		name       string
		newKeyFile string
		force      bool
	)
	cmd := &cobra.Command{
		Use:   "create <file>",
		Short: "Create an empty database",
		Long: `Creates an empty database holding a single root group.

Examples:
  # KDBX 4 with Argon2id, asking for a password
  kdbxctl create vault.kdbx

  # KDBX 3.1 protected by a new key file only
  kdbxctl create --format-version 3 --no-password --new-keyfile vault.keyx vault.kdbx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := args[0]
			if !force {
				if err := mustNotExist(out); err != nil {
					return err
				}
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(out), filepath.Ext(out))
			}
			if newKeyFile != "" {
				if err := a.generateKeyFile(newKeyFile, force); err != nil {
					return err
				}
				a.keyFile = newKeyFile
			}

			creds, err := a.credentials(true)
			if err != nil {
				return err
			}
			db, err := kdbx.Create(creds, name, a.options(out))
			if err != nil {
				return err
			}
			if err := a.write(cmd.Context(), db, out); err != nil {
				return err
			}
			a.done("Created %s %s", filename.Sprintf("%s", out), muted.Sprintf("KDBX %s", db.Header.Version))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name of the root group (default: file name)")
	cmd.Flags().StringVar(&newKeyFile, "new-keyfile", "", "generate a random key file at this path and use it")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing files")
	return cmd
}

func (a *App) generateKeyFile(path string, force bool) error {
	if !force {
		if err := mustNotExist(path); err != nil {
			return err
		}
	}
	data, err := credentials.CreateRandomKeyFile(cryptox.Random)
	if err != nil {
		return err
	}
	if err := filex.WriteAtomic(path, data, 0o600); err != nil {
		return err
	}
	a.done("Wrote key file %s", filename.Sprintf("%s", path))
	return nil
}

func mustNotExist(path string) error {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return err
	}
}
