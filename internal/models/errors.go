// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

package models

import "errors"

// Error taxonomy. All errors surfaced by Ventrelay components wrap exactly
// one of these sentinels so callers can classify with errors.Is.
//
// Only ErrConfiguration is fatal, and only at startup. Everything else is
// reported to the caller (or logged) and the process keeps serving.
var (
	// ErrValidation marks a malformed or incomplete viewer request.
	// Reported to the originating viewer only.
	ErrValidation = errors.New("validation error")

	// ErrAuthorization marks a missing capability or failed session.
	// The request is rejected with no side effect.
	ErrAuthorization = errors.New("authorization error")

	// ErrDatabase marks a failed transaction. The transaction has been
	// rolled back and the connection released.
	ErrDatabase = errors.New("database error")

	// ErrBroker marks a malformed upstream frame or a failed publish.
	// Never tears down the subscription.
	ErrBroker = errors.New("broker error")

	// ErrConfiguration marks an unusable startup state, such as a table
	// recorded at a schema version newer than the running code.
	ErrConfiguration = errors.New("configuration error")
)
