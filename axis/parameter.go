package axis

import (
	"log"
	"math"

	"github.com/w1xm/acusim/protocol"
)

// Parameter command ids.
const (
	ParamAbsoluteOffset uint16 = 11
	ParamRelativeOffset uint16 = 12
)

// SetParameter handles a parameter command. Offsets are in degrees and are
// added to the trajectory generator setpoint while tracking. Parameters take
// effect immediately, so the executed register is written together with the
// received one.
func (c *Controller) SetParameter(cmd protocol.ParameterCommand) protocol.Answer {
	c.mu.Lock()
	defer c.mu.Unlock()
	offset := math.NaN()
	switch cmd.Parameter {
	case ParamAbsoluteOffset:
		offset = cmd.Param1
	case ParamRelativeOffset:
		offset = float64(c.status.POffset)/1e6 + cmd.Param1
	default:
		c.status.Received = protocol.CommandResult{Counter: cmd.Counter, Answer: protocol.AnswerInvalid}
		log.Printf("%s: unknown parameter %d (counter %d)", c.name, cmd.Parameter, cmd.Counter)
		return protocol.AnswerInvalid
	}
	answer := protocol.AnswerAccepted
	switch {
	case c.status.State != Active:
		answer = protocol.AnswerWrongState
	case !(math.Abs(offset) <= c.cfg.Max-c.cfg.Min):
		answer = protocol.AnswerInvalid
	}
	c.status.Received = protocol.CommandResult{Counter: cmd.Counter, ID: cmd.Parameter, Answer: answer}
	if answer != protocol.AnswerAccepted {
		return answer
	}
	c.status.POffset = micro(offset)
	c.status.Executed = protocol.CommandResult{Counter: cmd.Counter, ID: cmd.Parameter, Answer: protocol.AnswerDone}
	c.updateConditions()
	log.Printf("%s: offset %.6f", c.name, offset)
	return answer
}
