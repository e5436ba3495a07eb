// Package model defines the domain types shared by the opsd engine.
//
// An Operation is the top-level unit of work submitted by a caller. It owns
// one or more Channels, each a single delivery sub-task (one email send, one
// PDF render). Both entities move through the same lifecycle:
//
//	pending -> running -> {done | failed}
//
// done and failed are terminal. The rules for moving between states live in
// package statemachine; this package only names the states.
//
// Tags (operation types and channel kinds) are closed enumerations at the
// boundary. Parse them with ParseOperationType and ParseChannelKind, which
// normalize user input before matching.
package model
