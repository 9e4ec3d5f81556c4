package flow

import (
	"context"
	"sync"

	"pkt.systems/pslog"

	"pkt.systems/syncrelay/schema"
)

// Syncer is the slice of the relay client the flow needs. *client.Client
// satisfies it.
type Syncer interface {
	Update(ctx context.Context, session schema.SessionID, fields map[schema.FieldKey]string) (schema.Record, error)
	ClearCommands(ctx context.Context, session schema.SessionID) error
}

// InterpreterConfig configures command interpretation for one session.
type InterpreterConfig struct {
	Session schema.SessionID
	// Invalidations maps full invalidation tokens (invalid_* or inv_*)
	// to the message surfaced for them. Tokens not in the map are
	// ignored.
	Invalidations map[schema.CommandToken]string
	// Handlers maps non-invalidation tokens to their actions. Tokens
	// not in the map are ignored.
	Handlers map[schema.CommandToken]func()
	// OnInvalid receives the mapped message for an invalidation token.
	OnInvalid func(message string)
}

// Interpreter consumes operator command tokens for a session. Only the
// newest pending token is acted on; a record carrying the same state
// twice is processed once.
type Interpreter struct {
	cfg    InterpreterConfig
	sync   Syncer
	stages *StageMachine
	log    pslog.Logger

	mu           sync.Mutex
	lastRevision uint64
}

// NewInterpreter constructs an interpreter. stages and logger may be nil.
func NewInterpreter(cfg InterpreterConfig, syncer Syncer, stages *StageMachine, logger pslog.Logger) *Interpreter {
	return &Interpreter{
		cfg:    cfg,
		sync:   syncer,
		stages: stages,
		log:    logger,
	}
}

// ProcessRecord inspects a freshly received record and handles its most
// recent pending command, if any.
func (i *Interpreter) ProcessRecord(ctx context.Context, record schema.Record) {
	i.mu.Lock()
	if record.Revision <= i.lastRevision {
		i.mu.Unlock()
		return
	}
	i.lastRevision = record.Revision
	i.mu.Unlock()

	token, ok := record.LatestCommand()
	if !ok {
		return
	}
	i.HandleToken(ctx, token)
}

// HandleToken interprets a single command token. Blank tokens, unmapped
// invalidations, and unknown tokens are all no-ops.
func (i *Interpreter) HandleToken(ctx context.Context, token schema.CommandToken) {
	token = token.Normalize()
	if token == "" {
		return
	}
	if token.IsInvalidation() {
		message, ok := i.cfg.Invalidations[token]
		if !ok {
			if i.log != nil {
				i.log.Trace("command token unmapped", "session", i.cfg.Session, "token", token)
			}
			return
		}
		if i.log != nil {
			i.log.Info("command invalidation", "session", i.cfg.Session, "token", token)
		}
		if i.stages != nil {
			i.stages.Reset()
		}
		if i.cfg.OnInvalid != nil {
			i.cfg.OnInvalid(message)
		}
		i.clearAsync(ctx)
		return
	}
	handler, ok := i.cfg.Handlers[token]
	if !ok {
		if i.log != nil {
			i.log.Trace("command token unhandled", "session", i.cfg.Session, "token", token)
		}
		return
	}
	if i.log != nil {
		i.log.Info("command handled", "session", i.cfg.Session, "token", token)
	}
	handler()
	i.clearAsync(ctx)
}

// clearAsync acknowledges consumed commands off the handler path. Losing
// the clear is safe: reprocessing the same record state is idempotent.
func (i *Interpreter) clearAsync(ctx context.Context) {
	if i.sync == nil {
		return
	}
	go func() {
		if err := i.sync.ClearCommands(ctx, i.cfg.Session); err != nil && i.log != nil {
			i.log.Warn("command clear failed", "session", i.cfg.Session, "err", err)
		}
	}()
}
