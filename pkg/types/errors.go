package types

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace is the error codespace shared by the resolver client and server.
const Codespace = "resolver"

var (
	ErrResolverDisabled    = errorsmod.Register(Codespace, 2, "resolver endpoint not configured")
	ErrUnknownTransfer     = errorsmod.Register(Codespace, 3, "no pending transfer for secrethash")
	ErrResolverUnreachable = errorsmod.Register(Codespace, 4, "resolver unreachable")
	ErrUnexpectedStatus    = errorsmod.Register(Codespace, 5, "unexpected resolver status")
	ErrMalformedResponse   = errorsmod.Register(Codespace, 6, "malformed resolver response")
	ErrSecretMismatch      = errorsmod.Register(Codespace, 7, "secret does not match secrethash")
	ErrDispatchFailed      = errorsmod.Register(Codespace, 8, "state change dispatch failed")
	ErrInvalidRequest      = errorsmod.Register(Codespace, 9, "invalid resolution request")
	ErrInvalidConfig       = errorsmod.Register(Codespace, 10, "invalid configuration")
)
