package domain

import "errors"

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrOrderNotFound is returned when an order number cannot be found in the store.
var ErrOrderNotFound = errors.New("order not found")

// ErrSessionClosed is returned when a turn targets a completed or cancelled session.
var ErrSessionClosed = errors.New("session is closed")

// ErrNotOwner is returned when a caller accesses a session owned by someone else.
var ErrNotOwner = errors.New("session belongs to another user")

// ErrInvalidTransition is returned when a session status change is not allowed.
var ErrInvalidTransition = errors.New("invalid session status transition")

// ErrContentFiltered is returned by reasoning engines when the provider refused the content.
var ErrContentFiltered = errors.New("content rejected by provider filter")

// ErrEngineUnavailable is returned when the reasoning engine cannot be reached or timed out.
var ErrEngineUnavailable = errors.New("reasoning engine unavailable")

// ErrRateLimited is returned when a collaborator asked the caller to slow down.
var ErrRateLimited = errors.New("rate limited")

// ErrIntegrity is returned when stored content does not match its recorded hash.
var ErrIntegrity = errors.New("content integrity check failed")
