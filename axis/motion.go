package axis

import (
	"math"
	"time"
)

// Step advances cur toward target by at most rate·dt (rate in
// microdegrees/second, dt in seconds) without overshooting, then clamps the
// result to [lo, hi].
func Step(cur, target int32, rate, dt float64, lo, hi int32) int32 {
	diff := int64(target) - int64(cur)
	sign := signum(diff)
	next := int64(cur) + sign*int64(math.Round(math.Abs(rate)*dt))
	if signum(int64(target)-next) != sign {
		next = int64(target)
	}
	if next < int64(lo) {
		next = int64(lo)
	}
	if next > int64(hi) {
		next = int64(hi)
	}
	return int32(next)
}

func signum(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// Advance integrates the axis over dt.
func (c *Controller) Advance(dt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dt <= 0 {
		return
	}
	secs := dt.Seconds()
	prev, prevV := c.status.PIst, c.status.VIst
	next := prev

	switch c.motion {
	case motionPosition:
		next = Step(prev, c.target, c.rate, secs, c.status.MinPos, c.status.MaxPos)
		c.status.PBahn = next
		if next == c.target {
			c.motion = motionHold
			c.status.VSoll = 0
		}
	case motionTrack:
		next = c.advanceTrack(prev, secs)
	default:
		c.status.PBahn = prev
	}

	c.status.PIst = next
	c.status.VIst = int32(math.Round(float64(next-prev) / secs))
	if c.motion != motionTrack {
		c.status.VBahn = c.status.VIst
		c.status.ABahn = int32(math.Round(float64(c.status.VIst-prevV) / secs))
	}
	c.status.PAbw = c.status.PBahn - c.status.PIst
	c.updateConditions()
	c.updateMotors()
}

// advanceTrack follows the trajectory generator setpoint plus the axis
// offset. Without a valid setpoint the axis holds.
func (c *Controller) advanceTrack(cur int32, secs float64) int32 {
	var sp Setpoint
	if c.track != nil {
		sp = c.track.Setpoint(c.cfg.Subsystem)
	}
	c.status.PointingState = sp.State
	c.status.Conditions[TrackingInactive] = !sp.Valid
	if !sp.Valid {
		c.trackDone = false
		c.status.PBahn = cur
		c.status.VBahn, c.status.ABahn = 0, 0
		return cur
	}
	raw := int64(sp.Position) + int64(c.status.POffset)
	if raw > int64(c.status.MaxPos) || raw < int64(c.status.MinPos) {
		c.status.Conditions[TargetOutOfRange] = true
	}
	c.target = c.clamp(raw)
	c.status.PSoll = c.target
	c.status.PBahn = c.target
	c.status.VSoll = sp.Velocity
	c.status.VBahn = sp.Velocity
	c.status.ABahn = sp.Acceleration
	next := Step(cur, c.target, c.rate, secs, c.status.MinPos, c.status.MaxPos)
	c.trackDone = sp.Done && next == c.target
	return next
}

// Follow slaves the axis to master, clamped to this axis' own range. It is
// used for the cable wrap, which is not commanded directly.
func (c *Controller) Follow(master Status, dt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.status.PIst
	c.status.State = master.State
	c.status.Trajectory = master.Trajectory
	c.status.PointingState = master.PointingState
	c.status.PSoll = c.clamp(int64(master.PSoll))
	c.status.PBahn = c.clamp(int64(master.PBahn))
	c.status.PIst = c.clamp(int64(master.PIst))
	c.status.VSoll = master.VSoll
	c.status.VBahn = master.VBahn
	c.status.ABahn = master.ABahn
	if secs := dt.Seconds(); secs > 0 {
		c.status.VIst = int32(math.Round(float64(c.status.PIst-prev) / secs))
	}
	c.status.PAbw = c.status.PBahn - c.status.PIst
	c.target = c.status.PIst
	open := master.State == Active || master.State == Activating
	if open != c.brakesOpen {
		c.setBrakes(open)
	}
	c.updateConditions()
	c.updateMotors()
}

// updateConditions derives the continuous flags from the position and
// velocity. c.mu must be held.
func (c *Controller) updateConditions() {
	s := &c.status
	margin := int32(math.Round(c.cfg.PreLimitMargin * 1e6))
	s.Conditions[PreLimitUp] = s.PIst > s.MaxPos-margin
	s.Conditions[PreLimitDown] = s.PIst < s.MinPos+margin
	s.Conditions[FinalLimitUp] = s.PIst >= s.MaxPos
	s.Conditions[FinalLimitDown] = s.PIst <= s.MinPos
	s.Conditions[RateLimit] = s.VIst != 0 && abs32(s.VIst) >= s.MaxVelocity
	s.Conditions[SimulationActive] = s.Simulation
	s.Conditions[OffsetActive] = s.POffset != 0
	s.Conditions[StowPinsExtended] = s.Stowed

	s.StowPosOK = false
	for _, p := range c.cfg.StowPositions {
		if abs32(s.PIst-micro(p)) <= stowTolerance {
			s.StowPosOK = true
			break
		}
	}
}

// nominalTorque is the holding torque of one motor in mNm.
const nominalTorque = 2000

// updateMotors derives the motor telemetry from the axis. c.mu must be held.
func (c *Controller) updateMotors() {
	s := &c.status
	util := 0.0
	if s.MaxVelocity > 0 {
		util = math.Min(1, math.Abs(float64(s.VIst))/float64(s.MaxVelocity))
	}
	torque := 0.0
	if c.brakesOpen {
		torque = nominalTorque * (1 + util)
		if s.MaxAcceleration > 0 {
			torque += nominalTorque * float64(s.ABahn) / float64(s.MaxAcceleration)
		}
	}
	for i := range c.motors {
		c.motors[i] = MotorStatus{
			Position:    s.PIst,
			Velocity:    s.VIst,
			Torque:      int32(math.Round(torque)),
			Utilization: uint16(math.Round(util * 100)),
			Active:      s.State == Active,
			BrakeOpen:   c.brakesOpen,
			Temperature: int32(25000 + math.Round(util*15000)),
		}
		if i < MaxMotors {
			s.BrakesOpen[i] = c.brakesOpen
		}
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
