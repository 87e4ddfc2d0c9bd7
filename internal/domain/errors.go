package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound    = errors.New("domain: not found")
	ErrInvalidCard = errors.New("domain: invalid card")
	ErrNoAnchor    = errors.New("domain: card has no source anchor")
)
