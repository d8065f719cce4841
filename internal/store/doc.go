// Package store provides the local transcript ledger using SQLite.
//
// # Overview
//
// Every committed or failed turn can be appended to a local ledger so past
// conversations stay readable without the server. Conversations are keyed by
// the server-assigned id; a conversation row is created by its first turn and
// titled from its first user turn.
//
// # Data Models
//
//   - Conversation: id, title, timestamps, turn count
//   - TurnRecord: one turn with its ordered steps and a status ("complete" or "error")
//
// Steps are stored as JSON in the same shape the server uses for
// thought_steps, so either source decodes with DecodeSteps.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Deleting a conversation cascades to its turns.
//
// # Testing
//
// MockStore is an in-memory Store for tests of code that records turns.
package store
