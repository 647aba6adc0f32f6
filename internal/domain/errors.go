package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrNotApplicable = errors.New("source not applicable")

	ErrAlreadySettled      = errors.New("market already settled")
	ErrInvalidDecision     = errors.New("invalid decision")
	ErrDecisionUnavailable = errors.New("decision source unavailable")
	ErrTxReverted          = errors.New("transaction reverted")
	ErrTxTimeout           = errors.New("transaction receipt timeout")
	ErrSweepInProgress     = errors.New("sweep already in progress")

	ErrDivergentEvidence        = errors.New("divergent evidence across nodes")
	ErrInsufficientObservations = errors.New("insufficient observations")
)
