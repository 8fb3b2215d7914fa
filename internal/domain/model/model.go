// Package model contains domain models passed between layers.
package model

import "time"

// Category classifies a canonical entity or candidate.
type Category string

// Recognized categories. Candidates never match entities of another category.
const (
	CategoryYacht  Category = "yacht"
	CategoryTender Category = "tender"
)

// Decision is the terminal state of a candidate's resolution.
type Decision string

// Terminal resolution states. Merged is reserved for explicit cross-run
// entity merges, never produced by per-candidate resolution.
const (
	DecisionMatched   Decision = "matched"
	DecisionCreated   Decision = "created"
	DecisionAmbiguous Decision = "ambiguous"
	DecisionRejected  Decision = "rejected"
	DecisionMerged    Decision = "merged"
)

// EventType is the closed enumeration of timeline event types.
type EventType string

const (
	EventSighting      EventType = "sighting"
	EventSale          EventType = "sale"
	EventRegistration  EventType = "registration"
	EventTenderPairing EventType = "tender-pairing"
)

// RawRecord is a single inbound mention as supplied by the discovery and
// extraction collaborators. Order within a batch matters: Seq preserves it.
type RawRecord struct {
	Seq       int            `json:"-"`
	SourceURL string         `json:"source_url"`
	FetchedAt time.Time      `json:"fetched_at"`
	Category  string         `json:"category"`
	RawName   string         `json:"raw_name"`
	Facts     map[string]any `json:"facts"`
}

// Candidate is a normalized, comparable mention awaiting resolution.
// Zero values mean "absent" for LengthM and BuildYear.
type Candidate struct {
	Seq        int
	SourceURL  string
	SourceHost string
	FetchedAt  time.Time
	Category   Category
	Name       string // display name, trimmed
	NameKey    string // fold-normalized matching key
	LengthM    float64
	BuildYear  int
	Builder    string
	Facts      map[string]string // normalized leftover facts
}

// FieldProvenance records which source supplied an entity attribute's
// current value, used by reconciliation on later merges.
type FieldProvenance struct {
	SourceURL string    `json:"source_url"`
	Trust     float64   `json:"trust"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Entity is a canonical deduplicated vessel or tender. The identifier is
// assigned once by the store and never reused or mutated.
type Entity struct {
	ID         int64
	Category   Category
	Name       string
	LengthM    float64
	Builder    string
	BuildYear  int
	Confidence int
	MergedInto int64 // non-zero marks a tombstone redirecting to another entity
	Provenance map[string]FieldProvenance
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Aliases    []Alias
}

// Alias is a name historically associated with an entity. Never deleted,
// only superseded: primary-name promotion flips IsPrimary flags.
type Alias struct {
	ID         int64
	EntityID   int64
	Alias      string
	IsPrimary  bool
	ReviewFlag bool // same string claimed by another entity; needs human review
	SourceURL  string
	FirstSeen  time.Time
	LastSeen   time.Time
}

// Event is an immutable timestamped occurrence on one entity's timeline.
// Approximate dates are stored as an [Earliest, Latest] bound; coalescing
// duplicate drafts extends the bound instead of inserting a new row.
type Event struct {
	ID        int64
	EntityID  int64
	Type      EventType
	Earliest  time.Time
	Latest    time.Time
	Fact      map[string]string
	FactHash  string
	CreatedAt time.Time
	Sources   []string
}

// SourceRecord is the append-only audit trail linking a raw candidate to
// its resolution outcome.
type SourceRecord struct {
	ID        string
	EntityID  int64 // zero when unresolved or rejected
	URL       string
	FetchedAt time.Time
	RawName   string
	Decision  Decision
	Score     float64
	Detail    string
	CreatedAt time.Time
}

// Dataset is a consistent snapshot of the full store state, read in one
// transaction for export.
type Dataset struct {
	Entities []Entity
	Aliases  []Alias
	Events   []Event
	Sources  []SourceRecord
}
