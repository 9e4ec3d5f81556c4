package flow

import (
	"context"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/syncrelay/client"
	"pkt.systems/syncrelay/identity"
	"pkt.systems/syncrelay/schema"
)

var fieldKinds = map[schema.FieldKey]identity.Kind{
	schema.FieldDeviceNumber:          identity.KindDevice,
	schema.FieldDeviceNumberConfirmed: identity.KindDevice,
	schema.FieldEmail:                 identity.KindEmail,
	schema.FieldClientEmail:           identity.KindEmail,
}

// Subscriber opens the live event stream for a session. *client.Client
// satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, session schema.SessionID, handler client.Handler) (func(), error)
}

// ControllerConfig configures a flow controller.
type ControllerConfig struct {
	Session     schema.SessionID
	Debounce    time.Duration
	Stages      StageConfig
	Interpreter InterpreterConfig
	Identity    *identity.Manager
	OnStage     func(Stage)
	Logger      pslog.Logger
}

// Controller wires the debouncer, stage machine, and interpreter to a
// relay client for one session.
type Controller struct {
	session schema.SessionID
	sync    Syncer
	deb     *Debouncer
	stages  *StageMachine
	interp  *Interpreter
	ids     *identity.Manager
	log     pslog.Logger
}

// NewController builds the flow around syncer.
func NewController(cfg ControllerConfig, syncer Syncer) *Controller {
	cfg.Interpreter.Session = cfg.Session
	ids := cfg.Identity
	if ids == nil {
		ids = identity.Default()
	}
	onInvalid := cfg.Interpreter.OnInvalid
	cfg.Interpreter.OnInvalid = func(message string) {
		ids.ClearAll(identity.KindDevice)
		ids.ClearAll(identity.KindEmail)
		if onInvalid != nil {
			onInvalid(message)
		}
	}
	c := &Controller{
		session: cfg.Session,
		sync:    syncer,
		ids:     ids,
		log:     cfg.Logger,
	}
	c.stages = NewStageMachine(cfg.Stages, cfg.OnStage, cfg.Logger)
	c.interp = NewInterpreter(cfg.Interpreter, syncer, c.stages, cfg.Logger)
	c.deb = NewDebouncer(cfg.Debounce, func(fields map[schema.FieldKey]string) {
		if _, err := syncer.Update(context.Background(), cfg.Session, fields); err != nil && cfg.Logger != nil {
			cfg.Logger.Warn("field sync failed", "session", cfg.Session, "err", err)
		}
	})
	return c
}

// EditField records a field edit; the value syncs after the debounce
// window goes quiet. Identifier fields are also captured locally so the
// flow survives a page reload.
func (c *Controller) EditField(key schema.FieldKey, value string) {
	c.deb.Set(key, value)
	if kind, ok := fieldKinds[key]; ok {
		c.ids.Save(kind, value, schema.SourceLocal)
	}
}

// Identifier returns the locally captured identifier for kind, falling
// back to the hydration fields of record when no local value survives.
func (c *Controller) Identifier(kind identity.Kind, record *schema.Record) (string, bool) {
	return c.ids.GetWithRecordFallback(kind, record)
}

// Submit stamps the submission time, flushes pending edits in one update,
// and starts the staged submit.
func (c *Controller) Submit() {
	c.deb.Set(schema.FieldSubmittedAt, time.Now().UTC().Format(time.RFC3339))
	c.deb.Flush()
	c.stages.Begin()
}

// Stage returns the current submit stage.
func (c *Controller) Stage() Stage {
	return c.stages.Stage()
}

// Run subscribes to the session stream and feeds record events to the
// interpreter. The returned stop function tears everything down.
func (c *Controller) Run(ctx context.Context, stream Subscriber) (func(), error) {
	stopStream, err := stream.Subscribe(ctx, c.session, func(event client.Event) {
		if event.Record == nil {
			return
		}
		c.ids.GetWithRecordFallback(identity.KindDevice, event.Record)
		c.ids.GetWithRecordFallback(identity.KindEmail, event.Record)
		c.interp.ProcessRecord(ctx, *event.Record)
	})
	if err != nil {
		return nil, err
	}
	stop := func() {
		stopStream()
		c.deb.Stop()
		c.stages.Stop()
	}
	return stop, nil
}
