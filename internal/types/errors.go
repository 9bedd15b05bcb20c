package types

import "errors"

// Sentinel errors for the fill simulator.
var (
	// Configuration and domain faults. These signal a malformed order or stop,
	// never a market condition.
	ErrUnsupportedSide      = errors.New("order side is not supported")
	ErrUnsupportedOrderType = errors.New("order type is not supported")
	ErrUnsupportedStopMode  = errors.New("stop mode is not supported")
	ErrUnsupportedStopType  = errors.New("stop type is not supported")
	ErrUnknownPositionSide  = errors.New("unknown position side")

	// Order errors
	ErrDuplicateOrder   = errors.New("duplicate order id")
	ErrInvalidOrderSize = errors.New("invalid order size")
	ErrOrderNotFound    = errors.New("order not found")

	// Position errors
	ErrPositionNotFound = errors.New("position not found")

	// Stop errors
	ErrStopTimeElapsed = errors.New("stop time is not in the future")
	ErrStopNotActive   = errors.New("stop is not active")

	// Data errors
	ErrInvalidPrice    = errors.New("invalid price value")
	ErrInvalidData     = errors.New("invalid market data")
	ErrDataUnavailable = errors.New("market data unavailable")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidSymbol = errors.New("invalid symbol")
)
