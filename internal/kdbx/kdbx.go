// Package kdbx loads and saves KeePass KDBX 3.1 and 4.x databases. It
// drives the container codec, the body mapping and the document model,
// and is the only package most callers need.
//
//	creds, _ := credentials.New(protected.FromString("demo"), nil)
//	db, err := kdbx.Load(ctx, data, creds, kdbx.Options{})
//	...
//	out, err := db.Save(ctx)
package kdbx

import (
	"context"
	"io"
	"time"

	"github.com/dmitrijs2005/gokdbx/internal/body"
	"github.com/dmitrijs2005/gokdbx/internal/common"
	"github.com/dmitrijs2005/gokdbx/internal/container"
	"github.com/dmitrijs2005/gokdbx/internal/credentials"
	"github.com/dmitrijs2005/gokdbx/internal/cryptox"
	"github.com/dmitrijs2005/gokdbx/internal/document"
	"github.com/dmitrijs2005/gokdbx/internal/innerstream"
	"github.com/dmitrijs2005/gokdbx/internal/logging"
	"github.com/dmitrijs2005/gokdbx/internal/retention"
)

// Options carry the capabilities a database uses. The zero value is ready
// to use: crypto/rand, the wall clock, no logging and default headers.
type Options struct {
	Random io.Reader
	Now    func() time.Time
	Logger logging.Logger
	// Header is used by Create and LoadBody, which have no stored header.
	Header *container.HeaderOptions
}

func (o Options) withDefaults() Options {
	if o.Random == nil {
		o.Random = cryptox.Random
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	return o
}

func (o Options) env() document.Env {
	return document.Env{Now: o.Now, Random: o.Random}
}

func (o Options) header() (*container.Header, error) {
	ho := container.DefaultHeaderOptions()
	if o.Header != nil {
		ho = *o.Header
	}
	return container.NewHeader(ho)
}

// Database is an open vault: the document, the header it is saved with and
// the credentials that lock it.
type Database struct {
	Doc         *document.Document
	Header      *container.Header
	Credentials *credentials.Credentials

	opts Options
}

// Create builds a new database with an empty root group called name.
func Create(creds *credentials.Credentials, name string, opts Options) (*Database, error) {
	if creds == nil {
		return nil, common.InvalidArg("credentials", "must not be nil")
	}
	opts = opts.withDefaults()
	h, err := opts.header()
	if err != nil {
		return nil, err
	}
	doc, err := document.Create(name, opts.env())
	if err != nil {
		return nil, err
	}
	return &Database{Doc: doc, Header: h, Credentials: creds, opts: opts}, nil
}

// Load opens a KDBX container. Wrong credentials fail with
// common.ErrInvalidKey and damaged input with common.ErrFileCorrupt; no
// partial database is returned on error.
func Load(ctx context.Context, data []byte, creds *credentials.Credentials, opts Options) (*Database, error) {
	if data == nil {
		return nil, common.InvalidArg("data", "must be a byte buffer")
	}
	if creds == nil {
		return nil, common.InvalidArg("credentials", "must not be nil")
	}
	opts = opts.withDefaults()
	log := opts.Logger
	last := container.StageHeaderPending
	onStage := func(s container.Stage) {
		if s != container.StageCorrupt && s != container.StageBadKey {
			last = s
		}
		log.Debug(ctx, "load stage", "stage", s.String())
	}

	db, err := load(data, creds, opts, onStage)
	if err != nil {
		log.Warn(ctx, "load failed", "code", common.CodeOf(err), "stage", last.String(), "error", err)
		return nil, err
	}
	onStage(container.StageReady)
	log.Info(ctx, "database loaded",
		"version", db.Header.Version.String(),
		"kdf", container.KdfName(db.Header.KdfID()),
		"groups", countGroups(db.Doc),
	)
	return db, nil
}

func load(data []byte, creds *credentials.Credentials, opts Options, onStage container.StageFunc) (*Database, error) {
	key := creds.CompositeKey()
	defer cryptox.Wipe(key)

	p, err := container.Open(data, key, onStage)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Database, error) {
		onStage(container.StageCorrupt)
		return nil, err
	}
	stream, err := innerstream.New(p.Header.InnerStreamID, p.Header.ProtectedStreamKey)
	if err != nil {
		return fail(err)
	}
	doc, err := body.Decode(p.Body, stream, p.Binaries, opts.env())
	if err != nil {
		return fail(err)
	}
	if !p.Header.IsKdbx4() && len(doc.Meta.HeaderHash) > 0 && !cryptox.Equal(doc.Meta.HeaderHash, p.Header.Hash()) {
		return fail(common.Corrupt("header hash in body does not match header"))
	}
	onStage(container.StageBodyParsed)
	return &Database{Doc: doc, Header: p.Header, Credentials: creds, opts: opts}, nil
}

// LoadBody builds a database from a plain XML body, as written by SaveBody.
// The database gets a fresh header from opts.
func LoadBody(ctx context.Context, text string, creds *credentials.Credentials, opts Options) (*Database, error) {
	if creds == nil {
		return nil, common.InvalidArg("credentials", "must not be nil")
	}
	opts = opts.withDefaults()
	h, err := opts.header()
	if err != nil {
		return nil, err
	}
	doc, err := body.Decode([]byte(text), nil, nil, opts.env())
	if err != nil {
		opts.Logger.Warn(ctx, "load body failed", "code", common.CodeOf(err), "error", err)
		return nil, err
	}
	return &Database{Doc: doc, Header: h, Credentials: creds, opts: opts}, nil
}

// Save encrypts the database. Every call draws a new master seed, IV, KDF
// salt and stream key. On success Meta.Generator is updated, and for KDBX3
// Meta.HeaderHash holds the hash of the header just written.
func (db *Database) Save(ctx context.Context) ([]byte, error) {
	out, err := db.save()
	if err != nil {
		db.opts.Logger.Warn(ctx, "save failed", "code", common.CodeOf(err), "error", err)
		return nil, err
	}
	db.opts.Logger.Info(ctx, "database saved",
		"version", db.Header.Version.String(),
		"kdf", container.KdfName(db.Header.KdfID()),
		"bytes", len(out),
	)
	return out, nil
}

func (db *Database) save() ([]byte, error) {
	if db.Doc == nil || db.Doc.Meta == nil {
		return nil, common.InvalidArg("document", "must not be nil")
	}
	if db.Credentials == nil {
		return nil, common.InvalidArg("credentials", "must not be nil")
	}
	h := db.Header
	if err := h.Refresh(db.opts.Random); err != nil {
		return nil, err
	}
	if _, err := h.Marshal(); err != nil {
		return nil, err
	}
	stream, err := innerstream.New(h.InnerStreamID, h.ProtectedStreamKey)
	if err != nil {
		return nil, err
	}
	eo := body.EncodeOptions{Kdbx4: h.IsKdbx4(), Stream: stream}
	if !h.IsKdbx4() {
		eo.HeaderHash = h.Hash()
	}
	text, bins, err := body.Encode(db.Doc, eo)
	if err != nil {
		return nil, err
	}
	key := db.Credentials.CompositeKey()
	defer cryptox.Wipe(key)
	out, err := container.Seal(h, key, text, bins)
	if err != nil {
		return nil, err
	}
	db.Doc.Meta.Generator = common.Generator
	db.Doc.Meta.HeaderHash = eo.HeaderHash
	return out, nil
}

// SaveBody renders the plain XML body with protected values in clear text.
// The binary pool is always written to Meta/Binaries.
func (db *Database) SaveBody(ctx context.Context) (string, error) {
	if db.Doc == nil || db.Doc.Meta == nil {
		return "", common.InvalidArg("document", "must not be nil")
	}
	text, _, err := body.Encode(db.Doc, body.EncodeOptions{Kdbx4: db.Header.IsKdbx4(), MetaBinaries: true})
	if err != nil {
		db.opts.Logger.Warn(ctx, "save body failed", "code", common.CodeOf(err), "error", err)
		return "", err
	}
	db.Doc.Meta.Generator = common.Generator
	return string(text), nil
}

// Cleanup applies the retention rules selected by o.
func (db *Database) Cleanup(ctx context.Context, o retention.Options) retention.Report {
	r := retention.Apply(db.Doc, o)
	db.opts.Logger.Debug(ctx, "cleanup",
		"history", r.History, "icons", r.CustomIcons, "binaries", r.Binaries)
	return r
}

// SetCredentials replaces the key of the database and stamps
// Meta.KeyChanged.
func (db *Database) SetCredentials(creds *credentials.Credentials) error {
	if creds == nil {
		return common.InvalidArg("credentials", "must not be nil")
	}
	db.Credentials = creds
	db.Doc.Meta.KeyChanged = db.Doc.Now()
	return nil
}

// SetHeaderOptions replaces the header, for example to change the format
// version or KDF. Unknown header fields of the old header are dropped.
func (db *Database) SetHeaderOptions(o container.HeaderOptions) error {
	h, err := container.NewHeader(o)
	if err != nil {
		return err
	}
	db.Header = h
	return nil
}

func countGroups(d *document.Document) int {
	n := 0
	d.WalkGroups(func(*document.Group) { n++ })
	return n
}
