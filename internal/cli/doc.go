// Package cli implements kdbxctl, a command-line tool for KeePass KDBX
// files.
//
// Commands:
//   - create      write a new empty database
//   - info        print the header settings of a database
//   - dump        print the group tree as text or YAML
//   - cleanup     apply history caps and drop unused icons and attachments
//   - export-xml  write the plain XML body
//   - import-xml  encrypt a plain XML body into a new database
//
// Format settings come from defaults, an optional JSON file (--config) and
// flags, in that order. The password is read from the terminal without echo,
// or from stdin with --password-stdin.
package cli
