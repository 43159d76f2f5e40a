// Package protocol implements the ACU binary wire format: the command
// envelope, the individual command records and the status telegram framing.
//
// All multi-byte fields are big-endian.
package protocol

import (
	"fmt"
	"time"
)

const (
	StartFlag uint32 = 0x1ACFFC1D
	EndFlag   uint32 = 0xD1CFFCA1

	// start flag, total length, counter, command count
	envelopeHeaderLength = 16
	flagLength           = 4
	// MinEnvelopeLength is an envelope with no commands.
	MinEnvelopeLength = envelopeHeaderLength + flagLength
	// MaxEnvelopeLength bounds the declared length accepted by the parser.
	MaxEnvelopeLength = 4096

	// start flag, total length, milliseconds of day
	statusHeaderLength = 12
	// MinStatusLength is a status frame with an empty payload.
	MinStatusLength = statusHeaderLength + flagLength
)

type CommandType uint16

const (
	ModeCommandType         CommandType = 1
	ParameterCommandType    CommandType = 2
	ProgramTrackCommandType CommandType = 4
)

func (t CommandType) String() string {
	switch t {
	case ModeCommandType:
		return "mode"
	case ParameterCommandType:
		return "parameter"
	case ProgramTrackCommandType:
		return "program_track"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(t))
}

// Subsystem identifies the addressee of a command.
type Subsystem uint16

const (
	General   Subsystem = 0
	Azimuth   Subsystem = 1
	Elevation Subsystem = 2
	CableWrap Subsystem = 3
	Tracking  Subsystem = 5
)

func (s Subsystem) String() string {
	switch s {
	case General:
		return "general"
	case Azimuth:
		return "azimuth"
	case Elevation:
		return "elevation"
	case CableWrap:
		return "cable_wrap"
	case Tracking:
		return "tracking"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(s))
}

// Answer is the result code the firmware writes into a command status register.
type Answer uint16

const (
	AnswerNone       Answer = 0
	AnswerDone       Answer = 1
	AnswerActive     Answer = 2
	AnswerWrongState Answer = 4
	AnswerInvalid    Answer = 5
	AnswerAccepted   Answer = 9
)

func (a Answer) String() string {
	switch a {
	case AnswerNone:
		return "NONE"
	case AnswerDone:
		return "DONE"
	case AnswerActive:
		return "ACTIVE"
	case AnswerWrongState:
		return "WRONG_STATE"
	case AnswerInvalid:
		return "INVALID"
	case AnswerAccepted:
		return "ACCEPTED"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(a))
}

// CommandResult is one received/executed command register.
type CommandResult struct {
	Counter uint32
	ID      uint16
	Answer  Answer
}

// MillisOfDay returns the milliseconds elapsed since midnight UTC.
func MillisOfDay(t time.Time) uint32 {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return uint32(t.Sub(midnight) / time.Millisecond)
}
