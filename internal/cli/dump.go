package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/gokdbx/internal/document"
	"github.com/dmitrijs2005/gokdbx/internal/kdbx"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *App) dumpCmd() *cobra.Command {
	var (
		format      string
		showSecrets bool
	)
	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Print groups and entries",
		Long: `Prints the group tree with every entry and its fields. Protected values
are shown as [protected] unless --show-secrets is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "yaml" {
				return fmt.Errorf("unknown format %q, want text or yaml", format)
			}
			db, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			v := newDatabaseView(db, showSecrets)
			if format == "yaml" {
				enc := yaml.NewEncoder(a.Out)
				enc.SetIndent(2)
				if err := enc.Encode(v); err != nil {
					return err
				}
				return enc.Close()
			}
			for _, g := range v.Groups {
				writeGroupText(a.Out, g, 0)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or yaml")
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print protected values in clear text")
	return cmd
}

type field struct {
	Key   string
	Value string
}

// fieldList keeps entry field order in YAML output.
type fieldList []field

func (l fieldList) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range l {
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Key},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Value},
		)
	}
	return n, nil
}

type entryView struct {
	UUID        string    `yaml:"uuid"`
	Fields      fieldList `yaml:"fields"`
	Tags        []string  `yaml:"tags,omitempty"`
	Attachments []string  `yaml:"attachments,omitempty"`
	History     int       `yaml:"history,omitempty"`
}

type groupView struct {
	Name    string      `yaml:"name"`
	UUID    string      `yaml:"uuid"`
	Entries []entryView `yaml:"entries,omitempty"`
	Groups  []groupView `yaml:"groups,omitempty"`
}

type databaseView struct {
	Name    string      `yaml:"name"`
	Version string      `yaml:"version"`
	Groups  []groupView `yaml:"groups"`
}

func newDatabaseView(db *kdbx.Database, showSecrets bool) databaseView {
	v := databaseView{Name: db.Doc.Meta.Name, Version: db.Header.Version.String()}
	for _, g := range db.Doc.Groups {
		v.Groups = append(v.Groups, newGroupView(g, showSecrets))
	}
	return v
}

func newGroupView(g *document.Group, showSecrets bool) groupView {
	v := groupView{Name: g.Name, UUID: g.UUID.String()}
	for _, e := range g.Entries {
		v.Entries = append(v.Entries, newEntryView(e, showSecrets))
	}
	for _, sub := range g.Groups {
		v.Groups = append(v.Groups, newGroupView(sub, showSecrets))
	}
	return v
}

func newEntryView(e *document.Entry, showSecrets bool) entryView {
	v := entryView{UUID: e.UUID.String(), Tags: e.Tags, History: len(e.History)}
	for _, f := range e.Fields {
		text := f.Value.String()
		if showSecrets {
			text = f.Value.Text()
		}
		v.Fields = append(v.Fields, field{Key: f.Key, Value: text})
	}
	for _, b := range e.Binaries {
		v.Attachments = append(v.Attachments, b.Name)
	}
	return v
}

func writeGroupText(w io.Writer, g groupView, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(w, "%s%s/\n", indent, g.Name)
	for _, e := range g.Entries {
		title := e.title()
		if title == "" {
			title = e.UUID
		}
		fmt.Fprintf(w, "%s  - %s\n", indent, title)
		for _, f := range e.Fields {
			if f.Key == document.FieldTitle || f.Value == "" {
				continue
			}
			fmt.Fprintf(w, "%s      %s: %s\n", indent, f.Key, f.Value)
		}
		if len(e.Tags) > 0 {
			fmt.Fprintf(w, "%s      tags: %s\n", indent, strings.Join(e.Tags, ", "))
		}
		for _, name := range e.Attachments {
			fmt.Fprintf(w, "%s      attachment: %s\n", indent, name)
		}
	}
	for _, sub := range g.Groups {
		writeGroupText(w, sub, depth+1)
	}
}

func (e entryView) title() string {
	for _, f := range e.Fields {
		if f.Key == document.FieldTitle {
			return f.Value
		}
	}
	return ""
}
