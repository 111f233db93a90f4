package cli

import (
	"context"
	"time"

	"github.com/roach88/viewfold/internal/engine"
	"github.com/roach88/viewfold/internal/store"
)

// DefaultTimeout bounds how long query commands wait for replay.
const DefaultTimeout = 10 * time.Second

// session is an engine over an open SQLite log.
type session struct {
	*engine.Engine
	st *store.Store
}

// openSession opens the configured database and starts an engine on it.
func openSession(opts *RootOptions) (*session, error) {
	st, err := store.Open(opts.Config.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	opts.Logger.Debug("database ready", "path", opts.Config.Database)

	e := engine.New(st,
		engine.WithConfig(opts.Config),
		engine.WithLogger(opts.Logger),
	)
	return &session{Engine: e, st: st}, nil
}

// Close stops the engine before closing the database under it.
func (s *session) Close(opts *RootOptions) {
	s.Engine.Close()
	if err := s.st.Close(); err != nil {
		opts.Logger.Error("error closing database", "error", err)
	}
}

// queryContext applies a command's --timeout. Zero means no limit.
func queryContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}
