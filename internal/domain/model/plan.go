package model

import "time"

// AliasDraft adds a new alias to an entity during apply.
type AliasDraft struct {
	Alias     string
	SourceURL string
	Seen      time.Time
}

// EventDraft is a timeline event candidate produced by the timeline builder.
// The store decides at apply time whether it coalesces into an existing event.
type EventDraft struct {
	Type     EventType
	Earliest time.Time
	Latest   time.Time
	Fact     map[string]string
}

// SourceDraft is the audit record appended for every processed candidate.
type SourceDraft struct {
	URL       string
	FetchedAt time.Time
	RawName   string
	Decision  Decision
	Score     float64
	Detail    string
}

// Plan is the resolver's output for one candidate: either a merge into an
// existing entity, the creation of a new one, or a record-only outcome
// (ambiguous, rejected). Applied atomically by the store.
type Plan struct {
	Decision Decision

	// EntityID is the merge target for matched plans.
	EntityID int64

	// Created holds the initial state for created plans.
	Created *Entity

	// Updated holds the reconciled attribute state for matched plans.
	// Nil when the candidate adds no attribute information.
	Updated *Entity

	// PromoteName promotes the candidate's name to primary on apply.
	PromoteName bool

	// NewAlias is set when the candidate's name is not yet an alias of the
	// target entity.
	NewAlias *AliasDraft

	// Events are the timeline drafts derived for matched/created plans.
	Events []EventDraft

	// Source is always present; every candidate leaves an audit record.
	Source SourceDraft
}
