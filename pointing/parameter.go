package pointing

import (
	"fmt"
	"log"
	"math"

	"github.com/w1xm/acusim/protocol"
)

// TimeSource selects the clock the table is played against.
type TimeSource uint8

const (
	Internal TimeSource = 1
	External TimeSource = 2
	// Absolute plays the table against an explicitly set MJD.
	Absolute TimeSource = 3
)

func (s TimeSource) String() string {
	switch s {
	case Internal:
		return "INTERNAL"
	case External:
		return "EXTERNAL"
	case Absolute:
		return "ABSOLUTE"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// Parameter command ids.
const (
	ParamTimeSource      uint16 = 50
	ParamTimeOffset      uint16 = 51
	ParamStartCorrection uint16 = 60
)

// Time offset selectors for ParamTimeOffset.
const (
	offsetPlusSecond  = 1
	offsetMinusSecond = 2
	offsetAbsolute    = 3
	offsetRelative    = 4
)

const (
	// maxTimeOffset bounds the clock offset, in seconds.
	maxTimeOffset = 86400000
	// maxStartCorrection bounds the start correction, in milliseconds.
	maxStartCorrection = 86400000
)

// SetParameter handles a time control parameter command and returns the
// received answer.
func (e *Engine) SetParameter(cmd protocol.ParameterCommand) protocol.Answer {
	e.mu.Lock()
	defer e.mu.Unlock()
	var answer protocol.Answer
	switch cmd.Parameter {
	case ParamTimeSource:
		answer = e.setTimeSource(cmd.Param1, cmd.Param2)
	case ParamTimeOffset:
		answer = e.setTimeOffset(cmd.Param1, cmd.Param2)
	case ParamStartCorrection:
		answer = protocol.AnswerInvalid
		if math.Abs(cmd.Param1) <= maxStartCorrection {
			e.startCorrection = cmd.Param1
			answer = protocol.AnswerAccepted
		}
	default:
		e.received = protocol.CommandResult{Counter: cmd.Counter, Answer: protocol.AnswerInvalid}
		log.Printf("pointing: unknown parameter %d (counter %d)", cmd.Parameter, cmd.Counter)
		return protocol.AnswerInvalid
	}
	e.received = protocol.CommandResult{Counter: cmd.Counter, ID: cmd.Parameter, Answer: answer}
	if answer == protocol.AnswerAccepted {
		e.executed = protocol.CommandResult{Counter: cmd.Counter, ID: cmd.Parameter, Answer: protocol.AnswerDone}
		log.Printf("pointing: time source %v offset %.3fs start correction %.0fms", e.timeSource, e.timeOffset, e.startCorrection)
	}
	return answer
}

// RejectMode records a mode command addressed to the trajectory generator,
// which has no modes.
func (e *Engine) RejectMode(cmd protocol.ModeCommand) protocol.Answer {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.received = protocol.CommandResult{Counter: cmd.Counter, Answer: protocol.AnswerInvalid}
	return protocol.AnswerInvalid
}

func (e *Engine) setTimeSource(source, mjd float64) protocol.Answer {
	switch source {
	case float64(Internal), float64(External):
		e.timeSource = TimeSource(source)
		e.timeOffset = 0
	case float64(Absolute):
		offset := (mjd - MJD(e.clock())) * secondsPerDay
		if !(math.Abs(offset) <= maxTimeOffset) {
			return protocol.AnswerInvalid
		}
		e.timeSource = Absolute
		e.timeOffset = offset
	default:
		return protocol.AnswerInvalid
	}
	return protocol.AnswerAccepted
}

func (e *Engine) setTimeOffset(selector, value float64) protocol.Answer {
	offset := e.timeOffset
	switch selector {
	case offsetPlusSecond:
		offset++
	case offsetMinusSecond:
		offset--
	case offsetAbsolute:
		offset = value
	case offsetRelative:
		offset += value
	default:
		return protocol.AnswerInvalid
	}
	if !(math.Abs(offset) <= maxTimeOffset) {
		return protocol.AnswerInvalid
	}
	e.timeOffset = offset
	return protocol.AnswerAccepted
}
