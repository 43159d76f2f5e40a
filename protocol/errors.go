package protocol

import "errors"

var (
	// ErrFraming reports a bad start/end flag or declared length. The parser
	// buffer is discarded and resynchronizes on the next start flag.
	ErrFraming = errors.New("framing error")
	// ErrDuplicateCounter reports an envelope whose counter equals the last
	// one accepted on the connection. The envelope is dropped.
	ErrDuplicateCounter = errors.New("duplicate command counter")

	// The following reject an envelope wholesale.
	ErrUnknownCommand     = errors.New("unknown command type")
	ErrUnknownSubsystem   = errors.New("unknown subsystem")
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrDuplicateSubsystem = errors.New("duplicate subsystem in envelope")
)
