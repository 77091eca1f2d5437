package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/gokdbx/internal/buildinfo"
	"github.com/dmitrijs2005/gokdbx/internal/config"
	"github.com/dmitrijs2005/gokdbx/internal/container"
	"github.com/dmitrijs2005/gokdbx/internal/credentials"
	"github.com/dmitrijs2005/gokdbx/internal/cryptox"
	"github.com/dmitrijs2005/gokdbx/internal/filex"
	"github.com/dmitrijs2005/gokdbx/internal/kdbx"
	"github.com/dmitrijs2005/gokdbx/internal/logging"
	"github.com/dmitrijs2005/gokdbx/internal/protected"
	"github.com/spf13/cobra"
)

const maxKeyFileSize = 1 << 20

// App holds the state shared by all commands of one invocation.
type App struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	log    logging.Logger
	header container.HeaderOptions

	configPath    string
	keyFile       string
	noPassword    bool
	passwordStdin bool
	flags         *config.Flags
	stdin         *bufio.Reader
}

// NewApp returns an App bound to the process streams.
func NewApp() *App {
	return &App{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// Execute runs kdbxctl with args and returns the process exit code.
func (a *App) Execute(ctx context.Context, args []string) int {
	root := a.RootCmd()
	root.SetArgs(args)
	root.SetIn(a.In)
	root.SetOut(a.Out)
	root.SetErr(a.Err)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(a.Err, failure.Sprintf("%s %v", markErr, err))
		return 1
	}
	return 0
}

// RootCmd builds the command tree.
func (a *App) RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kdbxctl",
		Short:         "Inspect and maintain KeePass KDBX databases",
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "JSON file with format settings")
	pf.StringVarP(&a.keyFile, "keyfile", "k", "", "key file")
	pf.BoolVar(&a.noPassword, "no-password", false, "unlock with the key file only")
	pf.BoolVar(&a.passwordStdin, "password-stdin", false, "read the password from stdin")
	a.flags = config.BindFlags(pf, config.Default())

	root.AddCommand(
		a.createCmd(),
		a.infoCmd(),
		a.dumpCmd(),
		a.cleanupCmd(),
		a.exportXMLCmd(),
		a.importXMLCmd(),
	)
	return root
}

// setup resolves the configuration: defaults, then the JSON file, then
// flags the user set.
func (a *App) setup() error {
	cfg := config.Default()
	if err := cfg.LoadJSON(a.configPath); err != nil {
		return err
	}
	cfg.ApplyFlags(a.flags)

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	header, err := cfg.HeaderOptions()
	if err != nil {
		return err
	}
	a.header = header
	a.log = logging.NewText(a.Err, level)
	return nil
}

// options returns the facade options for work on file.
func (a *App) options(file string) kdbx.Options {
	h := a.header
	return kdbx.Options{Logger: a.log.With("file", file), Header: &h}
}

// credentials builds the composite key inputs. With confirm set, the
// password is asked twice when read from the terminal.
func (a *App) credentials(confirm bool) (*credentials.Credentials, error) {
	var keyFile []byte
	if a.keyFile != "" {
		data, err := filex.ReadFile(a.keyFile, maxKeyFileSize)
		if err != nil {
			return nil, err
		}
		keyFile = data
	}
	if a.noPassword {
		if keyFile == nil {
			return nil, errors.New("--no-password needs --keyfile")
		}
		return credentials.New(nil, keyFile)
	}

	pw, err := a.password(confirm)
	if err != nil {
		return nil, err
	}
	defer cryptox.Wipe(pw)
	v, err := protected.New(cryptox.Random, pw)
	if err != nil {
		return nil, err
	}
	return credentials.New(v, keyFile)
}

func (a *App) password(confirm bool) ([]byte, error) {
	if a.passwordStdin {
		if a.stdin == nil {
			a.stdin = bufio.NewReader(a.In)
		}
		line, err := GetLine(a.stdin)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		return []byte(line), nil
	}

	pw, err := GetPassword(a.Err, "Password: ")
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	if !confirm {
		return pw, nil
	}
	again, err := GetPassword(a.Err, "Repeat password: ")
	if err != nil {
		cryptox.Wipe(pw)
		return nil, fmt.Errorf("read password: %w", err)
	}
	defer cryptox.Wipe(again)
	if !cryptox.Equal(pw, again) {
		cryptox.Wipe(pw)
		return nil, errors.New("passwords do not match")
	}
	return pw, nil
}

// open reads and unlocks the database at path.
func (a *App) open(ctx context.Context, path string) (*kdbx.Database, error) {
	data, err := filex.ReadFile(path, filex.MaxDatabaseSize)
	if err != nil {
		return nil, err
	}
	creds, err := a.credentials(false)
	if err != nil {
		return nil, err
	}

	stop := startSpinner(a.Err, "Unlocking "+path)
	defer stop()
	select {
	case res := <-kdbx.LoadAsync(ctx, data, creds, a.options(path)):
		if res.Err != nil {
			return nil, fmt.Errorf("open %s: %w", path, res.Err)
		}
		return res.DB, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// write encrypts db and replaces path atomically.
func (a *App) write(ctx context.Context, db *kdbx.Database, path string) error {
	stop := startSpinner(a.Err, "Encrypting "+path)
	var res kdbx.SaveResult
	select {
	case res = <-db.SaveAsync(ctx):
		stop()
	case <-ctx.Done():
		stop()
		return ctx.Err()
	}
	if res.Err != nil {
		return fmt.Errorf("save %s: %w", path, res.Err)
	}
	return filex.WriteAtomic(path, res.Data, 0o600)
}

func (a *App) done(format string, args ...any) {
	fmt.Fprintln(a.Out, success.Sprintf("%s %s", markOK, fmt.Sprintf(format, args...)))
}
