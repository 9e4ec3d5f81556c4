package schema

// CreateSessionRequest creates a new session record. When Session is empty
// the service assigns an identifier.
type CreateSessionRequest struct {
	Session SessionID
}

// CreateSessionResponse returns the created record.
type CreateSessionResponse struct {
	Record Record
}

// ListSessionsRequest lists all session records.
type ListSessionsRequest struct{}

// ListSessionsResponse carries record snapshots ordered by creation time.
type ListSessionsResponse struct {
	Records []Record
}

// DeleteSessionRequest removes a session record.
type DeleteSessionRequest struct {
	Session SessionID
}

// DeleteSessionResponse reports the deleted session.
type DeleteSessionResponse struct {
	Session SessionID
}

// GetRecordRequest reads a session record snapshot.
type GetRecordRequest struct {
	Session SessionID
}

// GetRecordResponse carries the record snapshot.
type GetRecordResponse struct {
	Record Record
}

// MergeRecordRequest shallow-merges fields into a session record. Only the
// named fields are overwritten.
type MergeRecordRequest struct {
	Session SessionID
	Fields  map[FieldKey]string
	Source  Source
}

// MergeRecordResponse carries the record after the merge.
type MergeRecordResponse struct {
	Record Record
}

// PushCommandRequest appends a command token to a session record.
type PushCommandRequest struct {
	Session SessionID
	Token   CommandToken
}

// PushCommandResponse carries the record after the push.
type PushCommandResponse struct {
	Record Record
}

// ClearCommandsRequest empties a session's command list.
type ClearCommandsRequest struct {
	Session SessionID
}

// ClearCommandsResponse carries the record after the clear.
type ClearCommandsResponse struct {
	Record Record
}

// LatestCommandRequest reads the newest command token of a session.
type LatestCommandRequest struct {
	Session SessionID
}

// LatestCommandResponse carries the newest token; Ok is false when the
// command list is empty.
type LatestCommandResponse struct {
	Token CommandToken
	Ok    bool
}
