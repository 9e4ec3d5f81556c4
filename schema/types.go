package schema

// SessionID identifies a relayed session record.
type SessionID string

// FieldKey names a single field inside a session record.
type FieldKey string

// Source tags where a field value or identifier originated.
type Source string

const (
	// SourceLocal marks values captured from local input.
	SourceLocal Source = "local"
	// SourceRemote marks values hydrated from the remote record.
	SourceRemote Source = "remote"
	// SourceOperator marks values pushed from the operator console.
	SourceOperator Source = "operator"
)

// Well-known record fields consumed by identity hydration.
const (
	// FieldDeviceNumber holds the primary device tag.
	FieldDeviceNumber FieldKey = "deviceNumber"
	// FieldDeviceNumberConfirmed holds the confirmed device tag.
	FieldDeviceNumberConfirmed FieldKey = "deviceNumberConfirmed"
	// FieldEmail holds the primary email address.
	FieldEmail FieldKey = "email"
	// FieldClientEmail holds the legacy email field.
	FieldClientEmail FieldKey = "clientEmail"
	// FieldSubmittedAt holds the RFC 3339 timestamp of the last submit.
	FieldSubmittedAt FieldKey = "submittedAt"
)
