// Package model holds the data types shared across the ingest-to-dispatch
// pipeline: Message, EventSignature, Event, ChannelRecord and DedupEntry.
package model

import "time"

// ChannelClass distinguishes the two input lists.
type ChannelClass string

const (
	ClassSource ChannelClass = "source" // Arabic-language raw intelligence channels
	ClassSmart  ChannelClass = "smart"  // Hebrew-language commentary/corroboration channels
)

// EventType is the closed set of event_type values the extractor can return.
type EventType string

const (
	EventStrike     EventType = "strike"
	EventRocket     EventType = "rocket"
	EventClash      EventType = "clash"
	EventArrest     EventType = "arrest"
	EventMovement   EventType = "movement"
	EventStatement  EventType = "statement"
	EventCasualty   EventType = "casualty"
	EventOther      EventType = "other"
	EventIrrelevant EventType = "irrelevant"
)

// Status is an Event's lifecycle state. Transitions are one-way:
// Pending -> Sent or Pending -> Expired, never backward.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusExpired Status = "expired"
)

// Message is a single normalized unit handed from Ingest Fan-in to the Pipeline.
type Message struct {
	Text        string
	Channel     string // channel username, without leading "@"
	Class       ChannelClass
	Permalink   string
	MediaID     string // empty if no media
	ReceivedAt  time.Time
	SourceMsgID int64 // transport-native message id, used for min_id scanning
}

// CredibilityHints is the small mapping of credibility signals the extractor reports.
type CredibilityHints struct {
	HasMediaReference bool `json:"has_media_reference"`
	CitesNamedSource  bool `json:"cites_named_source"`
	UsesVagueLanguage bool `json:"uses_vague_language"`
	IsForwardedClaim  bool `json:"is_forwarded_claim"`
}

// Signature is the structured extract of a Message. Immutable after creation.
type Signature struct {
	Location     string           `json:"location,omitempty"`
	Region       string           `json:"region,omitempty"`
	EventType    EventType        `json:"event_type"`
	Entities     []string         `json:"entities,omitempty"`
	Keywords     []string         `json:"keywords,omitempty"`
	IsUrgent     bool             `json:"is_urgent"`
	Credibility  CredibilityHints `json:"credibility_indicators"`
}

// Source is one contributor row for an Event: composite key (EventID, Channel).
type Source struct {
	EventID    string
	Channel    string
	ReportedAt time.Time
	RawText    string // clipped
	Permalink  string
}

// Event aggregates one or more Messages believed to describe the same incident.
type Event struct {
	ID            string
	Signature     Signature // the signature of the first message; never mutated
	Texts         []string
	Channels      map[string]struct{}       // set semantics — invariant I1
	ChannelClass  map[string]ChannelClass
	Permalinks    []string
	FirstSeen     time.Time
	LastUpdated   time.Time
	SourceCount   int
	Status        Status
	Sent          bool
}

// ChannelRecord is the durable per-channel authority row.
type ChannelRecord struct {
	Channel             string
	Class               ChannelClass
	Score               float64
	TotalReports        int
	Corroborated        int
	FirstToReport        int
	UncorroboratedUrgent int
	LastUpdated          time.Time
}

// DedupEntry rejects exact-repeat text within a retention window.
type DedupEntry struct {
	HashKey   string
	CreatedAt time.Time
}
