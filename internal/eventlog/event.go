// Package eventlog appends domain facts to an append-only, per-aggregate
// versioned log. Every append enqueues exactly one outbox row in the same
// database transaction (spec.md §3, §4.7); internal/outbox drains that
// queue into the secondary store.
package eventlog

import "time"

// AggregateType names the entity an Event describes.
type AggregateType string

const (
	AggregateUser        AggregateType = "user"
	AggregateSession     AggregateType = "session"
	AggregateApiKey      AggregateType = "api_key"
	AggregateOAuthClient AggregateType = "oauth_client"
	AggregateOAuthToken  AggregateType = "oauth_token"
	AggregateAudit       AggregateType = "audit"
	AggregateAdmin       AggregateType = "admin"
)

// EventType names the fact an Event records.
type EventType string

const (
	EventUserUpserted    EventType = "UserUpserted"
	EventSessionCreated  EventType = "SessionCreated"
	EventSessionRevoked  EventType = "SessionRevoked"
	EventApiKeyCreated   EventType = "ApiKeyCreated"
	EventApiKeyRotated   EventType = "ApiKeyRotated"
	EventApiKeyRevoked   EventType = "ApiKeyRevoked"
	EventAuthEventLogged EventType = "AuthEventLogged"
	EventTokenIssued     EventType = "TokenIssued"
	EventTokenRevoked    EventType = "TokenRevoked"

	EventOAuthClientRegistered EventType = "OAuthClientRegistered"
	EventAdminBypassLogin      EventType = "AdminBypassLogin"
	EventAdminPasswordChanged  EventType = "AdminPasswordChanged"
)

// Event is an append-only fact about one aggregate. (AggregateType,
// AggregateID, Version) is unique and gap-free per aggregate; Append
// enforces this with a per-aggregate advisory lock.
type Event struct {
	EventID       string
	AggregateType AggregateType
	AggregateID   string
	Version       int64
	EventType     EventType
	Payload       map[string]interface{}
	Metadata      map[string]interface{}
	OccurredAt    time.Time
}
