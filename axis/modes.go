package axis

import (
	"context"
	"log"
	"math"

	"github.com/w1xm/acusim/protocol"
)

// Mode command ids.
const (
	ModeInactive       uint16 = 1
	ModeActive         uint16 = 2
	ModePresetAbsolute uint16 = 3
	ModePresetRelative uint16 = 4
	ModeSlew           uint16 = 5
	ModeStop           uint16 = 7
	ModeProgramTrack   uint16 = 8
	ModeInterlock      uint16 = 14
	ModeReset          uint16 = 15
	ModeStow           uint16 = 50
	ModeUnstow         uint16 = 51
	ModeDriveToStow    uint16 = 52
)

// modeHandler describes one mode command. check runs first and returns
// AnswerAccepted or the rejection code; apply runs synchronously with the
// command under c.mu; run, if set, is the asynchronous remainder and
// reports whether the command completed.
type modeHandler struct {
	// motion handlers own the axis positioning slot.
	motion bool
	check  func(c *Controller, cmd protocol.ModeCommand) protocol.Answer
	apply  func(c *Controller, cmd protocol.ModeCommand)
	run    func(c *Controller, ctx context.Context, cmd protocol.ModeCommand) bool
}

var modes = map[uint16]modeHandler{
	ModeInactive: {
		motion: true,
		check:  always,
		apply:  (*Controller).deactivate,
		run:    (*Controller).awaitBrakes,
	},
	ModeActive: {
		motion: true,
		check: func(c *Controller, _ protocol.ModeCommand) protocol.Answer {
			if c.status.State != Inactive {
				return protocol.AnswerWrongState
			}
			return protocol.AnswerAccepted
		},
		apply: (*Controller).activate,
		run:   (*Controller).awaitBrakes,
	},
	ModePresetAbsolute: {
		motion: true,
		check: func(c *Controller, cmd protocol.ModeCommand) protocol.Answer {
			return c.checkPreset(cmd.Param1, cmd.Param2, c.cfg.MaxVelocity)
		},
		apply: func(c *Controller, cmd protocol.ModeCommand) {
			c.startMove(micro(cmd.Param1), c.speed(cmd.Param2, c.cfg.MaxVelocity), Position)
		},
		run: (*Controller).awaitArrival,
	},
	ModePresetRelative: {
		motion: true,
		check: func(c *Controller, cmd protocol.ModeCommand) protocol.Answer {
			return c.checkPreset(float64(c.status.PSoll)/1e6+cmd.Param1, cmd.Param2, c.cfg.MaxVelocity)
		},
		apply: func(c *Controller, cmd protocol.ModeCommand) {
			c.startMove(c.status.PSoll+micro(cmd.Param1), c.speed(cmd.Param2, c.cfg.MaxVelocity), Position)
		},
		run: (*Controller).awaitArrival,
	},
	ModeSlew: {
		motion: true,
		check: func(c *Controller, cmd protocol.ModeCommand) protocol.Answer {
			if c.status.State != Active {
				return protocol.AnswerWrongState
			}
			if !(math.Abs(cmd.Param1) <= 1) || !c.rateOK(cmd.Param2, c.cfg.MaxVelocity) {
				return protocol.AnswerInvalid
			}
			return protocol.AnswerAccepted
		},
		apply: (*Controller).slew,
		run:   (*Controller).awaitArrival,
	},
	ModeStop: {
		motion: true,
		check:  requireActive,
		apply: func(c *Controller, _ protocol.ModeCommand) {
			c.hold(Stopped)
		},
	},
	ModeProgramTrack: {
		motion: true,
		check: func(c *Controller, cmd protocol.ModeCommand) protocol.Answer {
			if c.status.State != Active {
				return protocol.AnswerWrongState
			}
			if !c.rateOK(cmd.Param2, c.cfg.MaxVelocity) {
				return protocol.AnswerInvalid
			}
			return protocol.AnswerAccepted
		},
		apply: func(c *Controller, cmd protocol.ModeCommand) {
			c.rate = c.speed(cmd.Param2, c.cfg.MaxVelocity)
			c.motion = motionTrack
			c.trackDone = false
			c.status.Trajectory = Tracking
		},
		run: (*Controller).awaitTrackEnd,
	},
	ModeInterlock: {
		check: always,
	},
	ModeReset: {
		check: func(c *Controller, _ protocol.ModeCommand) protocol.Answer {
			if s := c.status.State; s != Inactive && s != Deactivating {
				return protocol.AnswerWrongState
			}
			return protocol.AnswerAccepted
		},
		apply: func(c *Controller, _ protocol.ModeCommand) {
			c.status.Conditions.clearErrors()
			c.updateConditions()
		},
	},
	ModeStow: {
		check: func(c *Controller, _ protocol.ModeCommand) protocol.Answer {
			if !c.status.StowPosOK {
				return protocol.AnswerWrongState
			}
			return protocol.AnswerAccepted
		},
		apply: func(c *Controller, _ protocol.ModeCommand) {
			c.setStowed(true)
			c.updateConditions()
		},
	},
	ModeUnstow: {
		check: always,
		apply: func(c *Controller, _ protocol.ModeCommand) {
			c.setStowed(false)
			c.updateConditions()
		},
	},
	ModeDriveToStow: {
		motion: true,
		check: func(c *Controller, cmd protocol.ModeCommand) protocol.Answer {
			if c.status.State != Active {
				return protocol.AnswerWrongState
			}
			idx := cmd.Param1
			if idx != math.Trunc(idx) || idx < 0 || int(idx) >= len(c.cfg.StowPositions) {
				return protocol.AnswerInvalid
			}
			if !c.rateOK(cmd.Param2, c.cfg.MaxVelocity/2) {
				return protocol.AnswerInvalid
			}
			return protocol.AnswerAccepted
		},
		apply: func(c *Controller, cmd protocol.ModeCommand) {
			pos := c.cfg.StowPositions[int(cmd.Param1)]
			c.startMove(micro(pos), c.speed(cmd.Param2, c.cfg.MaxVelocity/2), Position)
		},
		run: func(c *Controller, ctx context.Context, cmd protocol.ModeCommand) bool {
			if !c.awaitArrival(ctx, cmd) {
				return false
			}
			return c.locked(ctx, func() {
				c.updateConditions()
				if c.status.StowPosOK {
					c.setStowed(true)
					c.updateConditions()
				}
			})
		},
	},
}

// Execute handles a mode command and returns the answer recorded in the
// received register. Accepted commands continue asynchronously.
func (c *Controller) Execute(cmd protocol.ModeCommand) protocol.Answer {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := modes[cmd.Mode]
	if !ok {
		c.status.Received = protocol.CommandResult{Counter: cmd.Counter, Answer: protocol.AnswerInvalid}
		log.Printf("%s: unknown mode %d (counter %d)", c.name, cmd.Mode, cmd.Counter)
		return protocol.AnswerInvalid
	}
	answer := h.check(c, cmd)
	c.status.Received = protocol.CommandResult{Counter: cmd.Counter, ID: cmd.Mode, Answer: answer}
	if answer != protocol.AnswerAccepted {
		log.Printf("%s: mode %d (counter %d) rejected: %v", c.name, cmd.Mode, cmd.Counter, answer)
		return answer
	}
	c.launch(cmd, h)
	return answer
}

func always(*Controller, protocol.ModeCommand) protocol.Answer {
	return protocol.AnswerAccepted
}

func requireActive(c *Controller, _ protocol.ModeCommand) protocol.Answer {
	if c.status.State != Active {
		return protocol.AnswerWrongState
	}
	return protocol.AnswerAccepted
}

func (c *Controller) checkPreset(pos, rate, maxRate float64) protocol.Answer {
	if c.status.State != Active {
		return protocol.AnswerWrongState
	}
	if !c.inRange(pos) || !c.rateOK(rate, maxRate) {
		return protocol.AnswerInvalid
	}
	return protocol.AnswerAccepted
}

func (c *Controller) rateOK(rate, maxRate float64) bool {
	return math.Abs(rate) <= maxRate
}

// speed returns the magnitude of rate in microdegrees/second. A zero rate
// selects fallback.
func (c *Controller) speed(rate, fallback float64) float64 {
	if rate == 0 {
		rate = fallback
	}
	return math.Abs(rate) * 1e6
}

func (c *Controller) startMove(target int32, rate float64, state TrajectoryState) {
	c.target = c.clamp(int64(target))
	c.rate = rate
	c.status.PSoll = c.target
	c.status.VSoll = int32(math.Copysign(rate, float64(c.target)-float64(c.status.PIst)))
	c.status.Trajectory = state
	c.motion = motionPosition
	if c.target == c.status.PIst {
		c.motion = motionHold
		c.status.VSoll = 0
	}
}

func (c *Controller) slew(cmd protocol.ModeCommand) {
	rate := cmd.Param2
	if rate == 0 {
		rate = c.cfg.MaxVelocity
	}
	v := cmd.Param1 * rate
	target := c.status.PIst
	switch {
	case v > 0:
		target = c.status.MaxPos
	case v < 0:
		target = c.status.MinPos
	}
	c.startMove(target, math.Abs(v)*1e6, SlewingVelocity)
}

// hold freezes the axis at its actual position.
func (c *Controller) hold(state TrajectoryState) {
	c.motion = motionHold
	c.target = c.status.PIst
	c.status.PSoll = c.status.PIst
	c.status.VSoll = 0
	c.status.Trajectory = state
}

func (c *Controller) activate(protocol.ModeCommand) {
	c.status.State = Active
	if c.cfg.BrakeTime > 0 {
		c.status.State = Activating
	}
	c.setBrakes(true)
	c.hold(Holding)
	log.Printf("%s: %v", c.name, c.status.State)
}

func (c *Controller) deactivate(protocol.ModeCommand) {
	c.status.State = Inactive
	if c.cfg.BrakeTime > 0 {
		c.status.State = Deactivating
	}
	c.setBrakes(false)
	c.hold(Off)
	log.Printf("%s: %v", c.name, c.status.State)
}

// awaitBrakes completes an activation or deactivation once the brakes have
// had time to move.
func (c *Controller) awaitBrakes(ctx context.Context, _ protocol.ModeCommand) bool {
	if c.cfg.BrakeTime <= 0 {
		return true
	}
	if !sleep(ctx, c.cfg.BrakeTime) {
		return false
	}
	return c.locked(ctx, func() {
		switch c.status.State {
		case Activating:
			c.status.State = Active
		case Deactivating:
			c.status.State = Inactive
		}
		log.Printf("%s: %v", c.name, c.status.State)
	})
}

// awaitTrackEnd waits until the trajectory generator has run out of table
// and the axis has settled on the final point.
func (c *Controller) awaitTrackEnd(ctx context.Context, _ protocol.ModeCommand) bool {
	return c.poll(ctx, func() bool { return c.trackDone })
}

// locked runs fn under c.mu unless ctx has been canceled.
func (c *Controller) locked(ctx context.Context, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	fn()
	return true
}
