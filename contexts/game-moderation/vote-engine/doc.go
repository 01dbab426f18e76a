// Package voteengine implements the vote and execution resolution engine
// inside the game-moderation context.
//
// The module owns execution-vote rounds for the day phase: ballot
// registration and change over a single open round, weighted tallying,
// bounded runoff escalation on ties, execution application against the
// roster, and an append-only ballot audit log. Round-boundary notifications
// leave through an outbox relayed to the event bus. Business rules live in
// application/domain layers; infrastructure sits behind ports and adapters.
package voteengine
