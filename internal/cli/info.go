package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dmitrijs2005/gokdbx/internal/container"
	"github.com/dmitrijs2005/gokdbx/internal/document"
	"github.com/dmitrijs2005/gokdbx/internal/kdbx"
	"github.com/spf13/cobra"
)

func (a *App) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Show header settings and counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeInfo(a, db)
		},
	}
}

func writeInfo(a *App, db *kdbx.Database) error {
	h := db.Header
	compression := "none"
	if h.Compression == container.CompressionGzip {
		compression = "gzip"
	}
	groups, entries := 0, 0
	db.Doc.WalkGroups(func(*document.Group) { groups++ })
	db.Doc.WalkEntries(func(*document.Entry) { entries++ })

	w := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"version", h.Version.String()},
		{"cipher", container.CipherName(h.CipherID)},
		{"kdf", container.KdfName(h.KdfID())},
		{"compression", compression},
		{"name", db.Doc.Meta.Name},
		{"generator", db.Doc.Meta.Generator},
		{"groups", fmt.Sprint(groups)},
		{"entries", fmt.Sprint(entries)},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s:\t%s\n", r[0], r[1])
	}
	return w.Flush()
}
