package cli

import (
	"fmt"

	"github.com/dmitrijs2005/gokdbx/internal/filex"
	"github.com/dmitrijs2005/gokdbx/internal/kdbx"
	"github.com/spf13/cobra"
)

func (a *App) exportXMLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-xml <file> [out.xml]",
		Short: "Write the XML body with secrets in clear text",
		Long: `Writes the decrypted XML body. Protected values appear in clear text,
so the output must be handled as carefully as the password itself.
Without out.xml the body goes to stdout.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			text, err := db.SaveBody(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				_, err := fmt.Fprint(a.Out, text)
				return err
			}
			if err := filex.WriteAtomic(args[1], []byte(text), 0o600); err != nil {
				return err
			}
			a.done("Exported %s", filename.Sprintf("%s", args[1]))
			return nil
		},
	}
}

func (a *App) importXMLCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "import-xml <in.xml> <file>",
		Short: "Encrypt an XML body into a new database",
		Long: `Reads a plain XML body, for example one written by export-xml, and
saves it as a database using the configured format settings.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, out := args[0], args[1]
			if !force {
				if err := mustNotExist(out); err != nil {
					return err
				}
			}
			text, err := filex.ReadFile(in, filex.MaxDatabaseSize)
			if err != nil {
				return err
			}
			creds, err := a.credentials(true)
			if err != nil {
				return err
			}
			db, err := kdbx.LoadBody(cmd.Context(), string(text), creds, a.options(in))
			if err != nil {
				return fmt.Errorf("import %s: %w", in, err)
			}
			if err := a.write(cmd.Context(), db, out); err != nil {
				return err
			}
			a.done("Imported %s into %s", filename.Sprintf("%s", in), filename.Sprintf("%s", out))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}
