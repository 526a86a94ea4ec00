package core

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Context bundles every collaborator and configuration value the core needs,
// threaded explicitly through constructors instead of living behind
// package-level singletons. Tests build independent Contexts so state never
// leaks between cases.
type Context struct {
	// Ctx is the standard cancellation/deadline context for the current
	// operation; it is not stored long-term, only passed through calls
	// that can block on Store or Network I/O.
	Ctx context.Context

	Params NetworkParams
	Store  *Store
	Log    *logrus.Entry

	Self *KeyPair // this node's validator identity, nil for a read-only/observer node
}

// NewContext constructs a Context from its collaborators. log may be nil, in
// which case a discarding logger is used.
func NewContext(ctx context.Context, params NetworkParams, store *Store, log *logrus.Entry, self *KeyPair) *Context {
	if log == nil {
		l := logrus.New()
		l.SetOutput(discardWriter{})
		log = logrus.NewEntry(l)
	}
	return &Context{Ctx: ctx, Params: params, Store: store, Log: log, Self: self}
}

// WithCtx returns a shallow copy of c with its standard context replaced,
// used at the top of each request/tick to attach a fresh deadline.
func (c *Context) WithCtx(ctx context.Context) *Context {
	cp := *c
	cp.Ctx = ctx
	return &cp
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
