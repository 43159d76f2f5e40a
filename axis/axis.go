// Package axis simulates one ACU drive axis: its status register, the mode
// command state machine and a rate-limited motion integrator.
package axis

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/w1xm/acusim/protocol"
)

// Config describes one axis. Angles are in degrees, rates in degrees/second.
type Config struct {
	Subsystem       protocol.Subsystem
	MotorCount      int
	MaxVelocity     float64
	MaxAcceleration float64
	Min, Max        float64
	StowPositions   []float64
	InitialPosition float64
	// PreLimitMargin is the distance from either end of the range at which
	// the pre-limit warnings are raised.
	PreLimitMargin float64
	StowPins       int
	// BrakeTime is how long activation and deactivation take.
	BrakeTime time.Duration
}

// Setpoint is the trajectory generator output for one axis.
type Setpoint struct {
	Position     int32
	Velocity     int32
	Acceleration int32
	State        uint8
	// Valid is false when there is no table to follow.
	Valid bool
	// Done is set once the table is exhausted and Position is the final point.
	Done bool
}

// Tracker supplies program-track setpoints to axes in Tracking mode.
type Tracker interface {
	Setpoint(s protocol.Subsystem) Setpoint
}

type motion int

const (
	motionHold motion = iota
	motionPosition
	motionTrack
)

// stepPeriod is the wake-up interval of command tasks waiting on motion.
const stepPeriod = 5 * time.Millisecond

// stowTolerance is how close to a stow position the axis must be for the
// stow pins to engage.
const stowTolerance = 1000

type task struct {
	counter uint32
	cancel  context.CancelFunc
	done    chan struct{}
}

// Controller owns one axis. All methods are safe for concurrent use.
type Controller struct {
	cfg   Config
	name  string
	track Tracker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	status     Status
	motors     []MotorStatus
	brakesOpen bool
	motion     motion
	target     int32
	// rate is the speed limit of the current motion in microdegrees/second.
	rate float64
	// trackDone is set once the trajectory generator has completed and the
	// axis sits on the final setpoint.
	trackDone bool
	// slot is the in-flight positioning task, if any.
	slot  *task
	tasks []*task
}

// New creates an axis at its initial position, Inactive with brakes closed.
// Command tasks stop when ctx is canceled or Close is called.
func New(ctx context.Context, cfg Config, track Tracker) *Controller {
	ctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		cfg:    cfg,
		name:   cfg.Subsystem.String(),
		track:  track,
		ctx:    ctx,
		cancel: cancel,
		motors: make([]MotorStatus, cfg.MotorCount),
	}
	pos := c.clamp(int64(micro(cfg.InitialPosition)))
	c.status = Status{
		Simulation:      true,
		Ready:           true,
		ConfigOK:        true,
		InitOK:          true,
		State:           Inactive,
		Trajectory:      Off,
		PSoll:           pos,
		PBahn:           pos,
		PIst:            pos,
		MinPos:          micro(cfg.Min),
		MaxPos:          micro(cfg.Max),
		MaxVelocity:     micro(cfg.MaxVelocity),
		MaxAcceleration: micro(cfg.MaxAcceleration),
	}
	for i := 0; i < cfg.StowPins && i < MaxStowPins; i++ {
		c.status.StowPinSelection[i] = true
	}
	c.setStowed(false)
	c.target = pos
	c.updateConditions()
	c.updateMotors()
	return c
}

// Subsystem returns the protocol address of the axis.
func (c *Controller) Subsystem() protocol.Subsystem {
	return c.cfg.Subsystem
}

// MotorCount returns the number of installed motors.
func (c *Controller) MotorCount() int {
	return c.cfg.MotorCount
}

// Status returns a copy of the status register.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Motors returns a copy of the motor telemetry.
func (c *Controller) Motors() []MotorStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]MotorStatus(nil), c.motors...)
}

// Reap forgets finished command tasks and returns how many are still running.
func (c *Controller) Reap() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	live := c.tasks[:0]
	for _, t := range c.tasks {
		select {
		case <-t.done:
		default:
			live = append(live, t)
		}
	}
	for i := len(live); i < len(c.tasks); i++ {
		c.tasks[i] = nil
	}
	c.tasks = live
	if c.slot != nil {
		select {
		case <-c.slot.done:
			c.slot = nil
		default:
		}
	}
	return len(live)
}

// Close stops all command tasks and waits for them to exit.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

// launch starts the task for an accepted command. c.mu must be held.
func (c *Controller) launch(cmd protocol.ModeCommand, h modeHandler) {
	ctx, cancel := context.WithCancel(c.ctx)
	t := &task{counter: cmd.Counter, cancel: cancel, done: make(chan struct{})}
	var prev *task
	if h.motion {
		// Supersede whatever positioning task is in flight. It observes the
		// cancellation at its next wake-up and exits without publishing.
		prev = c.slot
		if prev != nil {
			prev.cancel()
		}
		c.slot = t
		c.motion = motionHold
	}
	if h.apply != nil {
		h.apply(c, cmd)
	}
	c.tasks = append(c.tasks, t)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(t.done)
		defer cancel()
		if prev != nil {
			<-prev.done
		}
		if !c.publishExecuted(ctx, cmd, protocol.AnswerActive) {
			return
		}
		if h.run != nil && !h.run(c, ctx, cmd) {
			return
		}
		c.publishExecuted(ctx, cmd, protocol.AnswerDone)
	}()
}

// publishExecuted writes the executed register unless the task was
// superseded or stopped.
func (c *Controller) publishExecuted(ctx context.Context, cmd protocol.ModeCommand, answer protocol.Answer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	c.status.Executed = protocol.CommandResult{Counter: cmd.Counter, ID: cmd.Mode, Answer: answer}
	return true
}

// awaitArrival blocks until the current positioning motion completes.
func (c *Controller) awaitArrival(ctx context.Context, _ protocol.ModeCommand) bool {
	return c.poll(ctx, func() bool { return c.motion == motionHold })
}

// poll evaluates done under c.mu every stepPeriod until it holds.
func (c *Controller) poll(ctx context.Context, done func() bool) bool {
	t := time.NewTicker(stepPeriod)
	defer t.Stop()
	for {
		c.mu.Lock()
		ok := done()
		c.mu.Unlock()
		if ok {
			return ctx.Err() == nil
		}
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
	}
}

// sleep waits for d unless ctx is canceled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Controller) setStowed(stowed bool) {
	for i, selected := range c.status.StowPinSelection {
		c.status.StowPinIn[i] = selected && stowed
		c.status.StowPinOut[i] = selected && !stowed
	}
	c.status.Stowed = stowed
}

func (c *Controller) setBrakes(open bool) {
	if c.brakesOpen != open {
		log.Printf("%s: brakes open=%v", c.name, open)
	}
	c.brakesOpen = open
	c.updateMotors()
}

func (c *Controller) clamp(v int64) int32 {
	lo, hi := int64(micro(c.cfg.Min)), int64(micro(c.cfg.Max))
	if v < lo {
		return int32(lo)
	}
	if v > hi {
		return int32(hi)
	}
	return int32(v)
}

// inRange reports whether deg lies inside the operating range.
func (c *Controller) inRange(deg float64) bool {
	return !math.IsNaN(deg) && deg >= c.cfg.Min && deg <= c.cfg.Max
}

// micro converts degrees to microdegrees.
func micro(deg float64) int32 {
	return int32(math.Round(deg * 1e6))
}
