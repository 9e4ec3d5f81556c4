package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"pkt.systems/syncrelay/internal/logx"
	"pkt.systems/syncrelay/schema"
	"pkt.systems/pslog"
)

// Service manages session records: shallow merges, the command channel, and
// lifecycle. All mutations emit events to the configured sink.
type Service interface {
	CreateSession(ctx context.Context, req schema.CreateSessionRequest) (schema.CreateSessionResponse, error)
	ListSessions(ctx context.Context, req schema.ListSessionsRequest) (schema.ListSessionsResponse, error)
	DeleteSession(ctx context.Context, req schema.DeleteSessionRequest) (schema.DeleteSessionResponse, error)
	GetRecord(ctx context.Context, req schema.GetRecordRequest) (schema.GetRecordResponse, error)
	MergeRecord(ctx context.Context, req schema.MergeRecordRequest) (schema.MergeRecordResponse, error)
	PushCommand(ctx context.Context, req schema.PushCommandRequest) (schema.PushCommandResponse, error)
	ClearCommands(ctx context.Context, req schema.ClearCommandsRequest) (schema.ClearCommandsResponse, error)
	LatestCommand(ctx context.Context, req schema.LatestCommandRequest) (schema.LatestCommandResponse, error)
}

type service struct {
	cfg  schema.ServiceConfig
	deps ServiceDeps

	mu      sync.Mutex
	records map[schema.SessionID]*schema.Record
}

// NewService constructs the core service and restores persisted records.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = pslog.Ctx(context.Background())
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = newID
	}
	svc := &service{
		cfg:     normalized,
		deps:    deps,
		records: make(map[schema.SessionID]*schema.Record),
	}
	if deps.Snapshots != nil {
		restored, err := deps.Snapshots.LoadAll()
		if err != nil {
			deps.Logger.Warn("service restore failed", "err", err)
		}
		for _, record := range restored {
			rec := record.Clone()
			svc.records[rec.Session] = &rec
		}
		if len(restored) > 0 {
			deps.Logger.Info("service restored", "sessions", len(restored))
		}
	}
	return svc, nil
}

func (s *service) CreateSession(ctx context.Context, req schema.CreateSessionRequest) (schema.CreateSessionResponse, error) {
	session := req.Session
	if session == "" {
		session = schema.SessionID(s.deps.NewID())
	}
	if err := schema.ValidateSessionID(session); err != nil {
		logx.Ctx(ctx).Warn("session create rejected", "session", session, "err", err)
		return schema.CreateSessionResponse{}, err
	}
	now := s.deps.Now()
	record := schema.Record{
		Session:   session,
		Fields:    map[schema.FieldKey]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	if _, exists := s.records[session]; exists {
		s.mu.Unlock()
		return schema.CreateSessionResponse{}, schema.ErrSessionExists
	}
	stored := record.Clone()
	s.records[session] = &stored
	s.mu.Unlock()

	s.saveSnapshot(session, record)
	logx.WithSession(ctx, session).Info("session created")
	if s.deps.EventSink != nil {
		s.deps.EventSink.OnSession(schema.SessionEvent{Session: session, Type: schema.SessionCreated, At: now})
	}
	return schema.CreateSessionResponse{Record: record}, nil
}

func (s *service) ListSessions(ctx context.Context, req schema.ListSessionsRequest) (schema.ListSessionsResponse, error) {
	s.mu.Lock()
	records := make([]schema.Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record.Clone())
	}
	s.mu.Unlock()
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].Session < records[j].Session
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return schema.ListSessionsResponse{Records: records}, nil
}

func (s *service) DeleteSession(ctx context.Context, req schema.DeleteSessionRequest) (schema.DeleteSessionResponse, error) {
	if err := schema.ValidateSessionID(req.Session); err != nil {
		return schema.DeleteSessionResponse{}, err
	}
	s.mu.Lock()
	record, ok := s.records[req.Session]
	var final schema.Record
	if ok {
		final = record.Clone()
		delete(s.records, req.Session)
	}
	s.mu.Unlock()
	if !ok {
		return schema.DeleteSessionResponse{}, schema.ErrSessionNotFound
	}

	log := logx.WithSession(ctx, req.Session)
	if s.deps.Archiver != nil {
		if err := s.deps.Archiver.Archive(req.Session, final); err != nil {
			log.Warn("session archive failed", "err", err)
		} else {
			log.Info("session archived", "revision", final.Revision)
		}
	}
	if s.deps.Snapshots != nil {
		if err := s.deps.Snapshots.Delete(req.Session); err != nil {
			log.Warn("session snapshot delete failed", "err", err)
		}
	}
	log.Info("session deleted")
	if s.deps.EventSink != nil {
		s.deps.EventSink.OnSession(schema.SessionEvent{Session: req.Session, Type: schema.SessionDeleted, At: s.deps.Now()})
	}
	return schema.DeleteSessionResponse{Session: req.Session}, nil
}

func (s *service) GetRecord(ctx context.Context, req schema.GetRecordRequest) (schema.GetRecordResponse, error) {
	if err := schema.ValidateSessionID(req.Session); err != nil {
		return schema.GetRecordResponse{}, err
	}
	s.mu.Lock()
	record, ok := s.records[req.Session]
	var snapshot schema.Record
	if ok {
		snapshot = record.Clone()
	}
	s.mu.Unlock()
	if !ok {
		return schema.GetRecordResponse{}, schema.ErrSessionNotFound
	}
	return schema.GetRecordResponse{Record: snapshot}, nil
}

func (s *service) MergeRecord(ctx context.Context, req schema.MergeRecordRequest) (schema.MergeRecordResponse, error) {
	if err := schema.ValidateSessionID(req.Session); err != nil {
		return schema.MergeRecordResponse{}, err
	}
	fields := schema.NormalizeFields(req.Fields)
	if fields == nil {
		return schema.MergeRecordResponse{}, schema.ErrNoFields
	}
	source := req.Source
	if source == "" {
		source = schema.SourceLocal
	}
	now := s.deps.Now()

	s.mu.Lock()
	record, ok := s.records[req.Session]
	if !ok {
		if !s.cfg.AutoCreate {
			s.mu.Unlock()
			return schema.MergeRecordResponse{}, schema.ErrSessionNotFound
		}
		record = &schema.Record{
			Session:   req.Session,
			Fields:    map[schema.FieldKey]string{},
			CreatedAt: now,
		}
		s.records[req.Session] = record
	}
	if record.Fields == nil {
		record.Fields = make(map[schema.FieldKey]string, len(fields))
	}
	for key, value := range fields {
		record.Fields[key] = value
	}
	record.Revision++
	record.UpdatedAt = now
	snapshot := record.Clone()
	s.mu.Unlock()

	s.saveSnapshot(req.Session, snapshot)
	logx.WithSession(ctx, req.Session).Debug("record merged", "fields", len(fields), "source", source, "revision", snapshot.Revision)
	if !ok && s.deps.EventSink != nil {
		s.deps.EventSink.OnSession(schema.SessionEvent{Session: req.Session, Type: schema.SessionCreated, At: now})
	}
	if s.deps.EventSink != nil {
		s.deps.EventSink.OnRecord(schema.RecordEvent{Session: req.Session, Record: snapshot, Source: source})
	}
	return schema.MergeRecordResponse{Record: snapshot}, nil
}

func (s *service) PushCommand(ctx context.Context, req schema.PushCommandRequest) (schema.PushCommandResponse, error) {
	if err := schema.ValidateSessionID(req.Session); err != nil {
		return schema.PushCommandResponse{}, err
	}
	token := req.Token.Normalize()
	if token == "" {
		return schema.PushCommandResponse{}, schema.ErrEmptyCommand
	}
	now := s.deps.Now()

	s.mu.Lock()
	record, ok := s.records[req.Session]
	if !ok {
		s.mu.Unlock()
		return schema.PushCommandResponse{}, schema.ErrSessionNotFound
	}
	record.Commands = append(record.Commands, token)
	if overflow := len(record.Commands) - s.cfg.MaxCommands; overflow > 0 {
		record.Commands = append([]schema.CommandToken(nil), record.Commands[overflow:]...)
	}
	record.Revision++
	record.UpdatedAt = now
	snapshot := record.Clone()
	s.mu.Unlock()

	s.saveSnapshot(req.Session, snapshot)
	logx.WithSession(ctx, req.Session).Info("command pushed", "token", token, "revision", snapshot.Revision)
	if s.deps.EventSink != nil {
		s.deps.EventSink.OnCommand(schema.CommandEvent{Session: req.Session, Token: token, Record: snapshot})
	}
	return schema.PushCommandResponse{Record: snapshot}, nil
}

func (s *service) ClearCommands(ctx context.Context, req schema.ClearCommandsRequest) (schema.ClearCommandsResponse, error) {
	if err := schema.ValidateSessionID(req.Session); err != nil {
		return schema.ClearCommandsResponse{}, err
	}
	s.mu.Lock()
	record, ok := s.records[req.Session]
	if !ok {
		s.mu.Unlock()
		return schema.ClearCommandsResponse{}, schema.ErrSessionNotFound
	}
	changed := len(record.Commands) > 0
	if changed {
		record.Commands = nil
		record.Revision++
		record.UpdatedAt = s.deps.Now()
	}
	snapshot := record.Clone()
	s.mu.Unlock()

	if changed {
		s.saveSnapshot(req.Session, snapshot)
		logx.WithSession(ctx, req.Session).Debug("commands cleared", "revision", snapshot.Revision)
		if s.deps.EventSink != nil {
			s.deps.EventSink.OnRecord(schema.RecordEvent{Session: req.Session, Record: snapshot, Source: schema.SourceLocal})
		}
	}
	return schema.ClearCommandsResponse{Record: snapshot}, nil
}

func (s *service) LatestCommand(ctx context.Context, req schema.LatestCommandRequest) (schema.LatestCommandResponse, error) {
	resp, err := s.GetRecord(ctx, schema.GetRecordRequest{Session: req.Session})
	if err != nil {
		return schema.LatestCommandResponse{}, err
	}
	token, ok := resp.Record.LatestCommand()
	return schema.LatestCommandResponse{Token: token, Ok: ok}, nil
}

// saveSnapshot is best-effort: persistence failures degrade to in-memory
// operation and are logged, never surfaced to callers.
func (s *service) saveSnapshot(session schema.SessionID, record schema.Record) {
	if s.deps.Snapshots == nil {
		return
	}
	if err := s.deps.Snapshots.Save(session, record); err != nil {
		s.deps.Logger.Warn("service snapshot save failed", "session", session, "err", err)
	}
}
