package wager

import "errors"

// Erros de regra do ciclo de vida. Toda operação que retorna um deles
// é rejeitada sem efeito colateral.
var (
	ErrCannotEnter        = errors.New("cannot enter")
	ErrCannotClaim        = errors.New("cannot claim")
	ErrCannotClose        = errors.New("cannot close")
	ErrInvalidPythKey     = errors.New("given key for pyth does not match")
	ErrInvalidPythAccount = errors.New("invalid pyth account")
	ErrPriceTooBig        = errors.New("price is too big to parse to u32")
)

var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidDuration      = errors.New("duration must be positive")
	ErrInvalidPlayer        = errors.New("player is required")
	ErrInvalidPrice         = errors.New("price must be a finite number")
	ErrIllegalTransition    = errors.New("illegal state transition")
	ErrBetNotFound          = errors.New("bet not found")
	ErrMasterNotInitialized = errors.New("master not initialized")
	ErrMasterExists         = errors.New("master already initialized")
	ErrInsufficientFunds    = errors.New("insufficient funds")
)
