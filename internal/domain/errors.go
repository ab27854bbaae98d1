package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrStaleQuote       = errors.New("quote is stale")
	ErrVenueUnavailable = errors.New("venue unavailable")
	ErrOpportunityGone  = errors.New("opportunity no longer available")
	ErrRiskRejected     = errors.New("rejected by risk gate")
	ErrPartialFill      = errors.New("partial fill: buy leg filled, sell leg did not")
	ErrUnknownVenue     = errors.New("unknown venue")
	ErrUnknownSymbol    = errors.New("unknown symbol format")
)
