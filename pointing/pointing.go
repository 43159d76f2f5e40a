// Package pointing implements the program track trajectory generator shared
// by the azimuth and elevation axes.
package pointing

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/interp"

	"github.com/w1xm/acusim/axis"
	"github.com/w1xm/acusim/protocol"
)

type State uint8

const (
	Off       State = 0
	Fault     State = 1
	Enabled   State = 2
	Running   State = 3
	Completed State = 4
)

func (s State) String() string {
	switch s {
	case Off:
		return "OFF"
	case Fault:
		return "FAULT"
	case Enabled:
		return "ENABLED"
	case Running:
		return "RUNNING"
	case Completed:
		return "COMPLETED"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// history is how many consumed points stay in the table window so that an
// appended sequence can be fitted smoothly onto the current trajectory.
const history = 2

// derivativeStep is the step, in milliseconds, of the central difference
// used for the second derivative.
const derivativeStep = 0.5

// setpoint is the generator output for one axis in degrees, degrees/ms and
// degrees/ms².
type setpoint struct {
	pos, vel, acc float64
}

// Engine is the trajectory generator. All methods are safe for concurrent use.
type Engine struct {
	clock func() time.Time

	mu    sync.Mutex
	state State

	// table window and spline fitted over it
	points    []protocol.TrackPoint
	next      int
	startTime float64
	azRate    float64
	elRate    float64
	loadMode  uint16
	az, el    interp.NaturalCubic

	timeSource TimeSource
	// timeOffset is added to the clock, in seconds.
	timeOffset float64
	// startCorrection shifts the table start, in milliseconds.
	startCorrection float64

	now     time.Time
	elapsed float64
	// current and next-point setpoints, indexed azimuth then elevation
	current [2]setpoint
	nextPos [2]float64

	received protocol.CommandResult
	executed protocol.CommandResult
}

// New returns an idle engine reading time from clock.
func New(clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{clock: clock, timeSource: Internal}
}

// State returns the tracking state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// effectiveNow returns now shifted by the configured time offset.
func (e *Engine) effectiveNow(now time.Time) time.Time {
	return now.Add(time.Duration(e.timeOffset * float64(time.Second)))
}

// elapsedAt returns the table time in milliseconds at now.
func (e *Engine) elapsedAt(now time.Time) float64 {
	start := Time(e.startTime)
	return float64(e.effectiveNow(now).Sub(start))/float64(time.Millisecond) - e.startCorrection
}

// Advance runs one integration step at now.
func (e *Engine) Advance(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
	if e.state != Enabled && e.state != Running {
		return
	}
	e.elapsed = e.elapsedAt(now)
	if e.state == Enabled {
		if e.elapsed < 0 {
			return
		}
		e.state = Running
		log.Printf("pointing: %v at table time %.0fms", e.state, e.elapsed)
	}

	for e.next < len(e.points) && float64(e.points[e.next].RelativeTime) <= e.elapsed {
		e.next++
	}
	if e.next == len(e.points) {
		last := e.points[len(e.points)-1]
		e.current = [2]setpoint{{pos: last.Azimuth}, {pos: last.Elevation}}
		e.nextPos = [2]float64{last.Azimuth, last.Elevation}
		e.state = Completed
		e.trim()
		log.Printf("pointing: %v", e.state)
		return
	}
	e.current[0] = evaluate(&e.az, e.elapsed)
	e.current[1] = evaluate(&e.el, e.elapsed)
	p := e.points[e.next]
	e.nextPos = [2]float64{p.Azimuth, p.Elevation}
	e.trim()
}

// trim drops consumed points beyond the retained history.
func (e *Engine) trim() {
	if drop := e.next - history; drop > 0 {
		e.points = append(e.points[:0], e.points[drop:]...)
		e.next -= drop
	}
}

func evaluate(s *interp.NaturalCubic, x float64) setpoint {
	return setpoint{
		pos: s.Predict(x),
		vel: s.PredictDerivative(x),
		acc: (s.PredictDerivative(x+derivativeStep) - s.PredictDerivative(x-derivativeStep)) / (2 * derivativeStep),
	}
}

// Setpoint implements axis.Tracker.
func (e *Engine) Setpoint(s protocol.Subsystem) axis.Setpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := 0
	if s == protocol.Elevation {
		i = 1
	}
	return e.setpoint(i)
}

func (e *Engine) setpoint(i int) axis.Setpoint {
	sp := axis.Setpoint{State: uint8(e.state)}
	switch e.state {
	case Off, Fault:
		return sp
	case Enabled, Completed:
		sp.Position = micro(e.current[i].pos)
	case Running:
		c := e.current[i]
		sp.Position = micro(c.pos)
		sp.Velocity = saturate(c.vel * 1e9)
		sp.Acceleration = saturate(c.acc * 1e12)
	}
	sp.Valid = true
	sp.Done = e.state == Completed
	return sp
}

func micro(deg float64) int32 {
	return saturate(deg * 1e6)
}

// saturate rounds v to the nearest int32, clamping at the type bounds.
func saturate(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(math.Round(v))
}
