package store

import "errors"

var (
	ErrJobNotFound     = errors.New("store: job not found")
	ErrJobNotFailed    = errors.New("store: job is not in FAILED status")
	ErrLockLost        = errors.New("store: job is not locked by this worker")
	ErrEventNotFound   = errors.New("store: webhook event not found")
	ErrDuplicateEvent  = errors.New("store: duplicate webhook event")
	ErrMappingNotFound = errors.New("store: entity mapping not found")
	ErrNotFound        = errors.New("store: record not found")
)
