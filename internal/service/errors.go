package service

import "errors"

var (
	ErrNotFound            = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrMalformedCallback   = errors.New("malformed payment callback")
	ErrUpstreamGeneration  = errors.New("generation failed")
	ErrInvalidIdentifier   = errors.New("invalid identifier")
	ErrInvalidTier         = errors.New("invalid tier")
)
