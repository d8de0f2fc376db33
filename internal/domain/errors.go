package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrUnknownPlacement     = errors.New("unknown placement")
	ErrUnknownBidder        = errors.New("unknown bidder")
	ErrUnknownCoordinator   = errors.New("unknown coordinator")
	ErrDuplicateOpportunity = errors.New("duplicate opportunity id")
	ErrBudgetExhausted      = errors.New("budget exhausted")
	ErrRateLimited          = errors.New("rate limited")
	ErrContextDone          = errors.New("context cancelled")
)
