package wire

import "errors"

var (
	ErrNoTLSConfig   = errors.New("wire: TLSConfig is required")
	ErrPortalClosed  = errors.New("wire: portal closed")
	ErrFrameTooLarge = errors.New("wire: frame exceeds size limit")
	ErrBadEnvelope   = errors.New("wire: envelope without destination or message")
)
