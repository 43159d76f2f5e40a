// Package acu assembles the simulated Antenna Control Unit: the command
// dispatcher, the axes, the trajectory generator, the status aggregator and
// the telemetry scheduler.
package acu

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/w1xm/acusim/axis"
	"github.com/w1xm/acusim/pointing"
	"github.com/w1xm/acusim/protocol"
)

// StatusCallback receives every published status frame. Callbacks run on
// the scheduler goroutine and must not block.
type StatusCallback func(frame []byte)

type snapshot struct {
	frame    []byte
	telegram *Telegram
}

// System is one simulated ACU.
type System struct {
	cfg   Config
	clock func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	pointing *pointing.Engine
	axes     [numAxes]*axis.Controller

	// current is replaced, never mutated, on every snapshot.
	current atomic.Pointer[snapshot]

	tickMu       sync.Mutex
	lastTick     time.Time
	lastSnapshot time.Time

	mu          sync.Mutex
	subscribers map[int]StatusCallback
	nextSub     int
}

// New creates a System with every axis Inactive at its initial position.
func New(ctx context.Context, cfg Config) *System {
	ctx, cancel := context.WithCancel(ctx)
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	s := &System{
		cfg:         cfg,
		clock:       clock,
		ctx:         ctx,
		cancel:      cancel,
		pointing:    pointing.New(clock),
		subscribers: make(map[int]StatusCallback),
	}
	s.axes[AzimuthAxis] = axis.New(ctx, cfg.Azimuth, s.pointing)
	s.axes[ElevationAxis] = axis.New(ctx, cfg.Elevation, s.pointing)
	s.axes[CableWrapAxis] = axis.New(ctx, cfg.CableWrap, nil)
	s.publish(clock())
	return s
}

// Config returns the configuration s was created with.
func (s *System) Config() Config {
	return s.cfg
}

// Axis returns the controller for subsystem sub, or nil.
func (s *System) Axis(sub protocol.Subsystem) *axis.Controller {
	for _, a := range s.axes {
		if a.Subsystem() == sub {
			return a
		}
	}
	return nil
}

// Pointing returns the trajectory generator.
func (s *System) Pointing() *pointing.Engine {
	return s.pointing
}

// Dispatch validates env and hands each command to its subsystem. It
// returns the received answers in command order. Envelope-level violations
// reject every command in env.
func (s *System) Dispatch(env protocol.Envelope) ([]protocol.CommandResult, error) {
	seen := make(map[protocol.Subsystem]bool)
	for _, c := range env.Commands {
		sub := c.Target()
		switch sub {
		case protocol.Azimuth, protocol.Elevation, protocol.Tracking:
		default:
			return nil, fmt.Errorf("%w: %v", protocol.ErrUnknownSubsystem, sub)
		}
		if seen[sub] {
			return nil, fmt.Errorf("%w: %v", protocol.ErrDuplicateSubsystem, sub)
		}
		seen[sub] = true
		if pt, ok := c.(protocol.ProgramTrackCommand); ok {
			if sub != protocol.Tracking || pt.Parameter != protocol.ProgramTrackParameter {
				return nil, fmt.Errorf("%w: program track for %v parameter %d", protocol.ErrMalformedEnvelope, sub, pt.Parameter)
			}
		}
	}

	results := make([]protocol.CommandResult, len(env.Commands))
	for i, c := range env.Commands {
		results[i] = s.dispatch(c)
	}
	return results, nil
}

func (s *System) dispatch(c protocol.Command) protocol.CommandResult {
	var (
		id     uint16
		answer protocol.Answer
	)
	switch c := c.(type) {
	case protocol.ModeCommand:
		id = c.Mode
		if c.Subsystem == protocol.Tracking {
			answer = s.pointing.RejectMode(c)
		} else {
			answer = s.Axis(c.Subsystem).Execute(c)
		}
	case protocol.ParameterCommand:
		id = c.Parameter
		if c.Subsystem == protocol.Tracking {
			answer = s.pointing.SetParameter(c)
		} else {
			answer = s.Axis(c.Subsystem).SetParameter(c)
		}
	case protocol.ProgramTrackCommand:
		id = c.Parameter
		answer = s.pointing.Load(c)
	}
	return protocol.CommandResult{Counter: c.Seq(), ID: id, Answer: answer}
}

// Tick advances the simulation to now and publishes a snapshot when the
// sampling time has elapsed.
func (s *System) Tick(now time.Time) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	var dt time.Duration
	if !s.lastTick.IsZero() {
		dt = now.Sub(s.lastTick)
	}
	s.lastTick = now

	s.pointing.Advance(now)
	s.axes[AzimuthAxis].Advance(dt)
	s.axes[ElevationAxis].Advance(dt)
	s.axes[CableWrapAxis].Follow(s.axes[AzimuthAxis].Status(), dt)
	for _, a := range s.axes {
		a.Reap()
	}

	if now.Sub(s.lastSnapshot) >= s.cfg.SamplingTime {
		s.publish(now)
	}
}

// Run drives Tick every StepTime until ctx is canceled or s is closed.
func (s *System) Run(ctx context.Context) error {
	step := s.cfg.StepTime
	if step <= 0 {
		step = 10 * time.Millisecond
	}
	t := time.NewTicker(step)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return nil
		case <-t.C:
		}
		s.Tick(s.clock())
	}
}

func (s *System) publish(now time.Time) {
	t := s.telegram(now)
	snap := &snapshot{frame: t.Encode(), telegram: t}
	s.current.Store(snap)
	s.lastSnapshot = now

	s.mu.Lock()
	subs := make([]StatusCallback, 0, len(s.subscribers))
	for _, cb := range s.subscribers {
		subs = append(subs, cb)
	}
	s.mu.Unlock()
	for _, cb := range subs {
		cb(snap.frame)
	}
}

func (s *System) telegram(now time.Time) *Telegram {
	ps := s.pointing.Status()
	t := &Telegram{
		MillisOfDay: protocol.MillisOfDay(now),
		General: GeneralStatus{
			Version:          s.cfg.Version,
			Master:           MasterRemote,
			Simulation:       true,
			ActualTime:       pointing.MJD(now),
			Remote:           true,
			PowerOK:          true,
			DoorClosed:       true,
			TimeSynchronized: ps.TimeSource != pointing.External,
			TimeSource:       uint8(ps.TimeSource),
		},
		Pointing: ps,
		Facility: nominalFacility,
	}
	for i, a := range s.axes {
		st := a.Status()
		t.Axes[i] = st
		t.Motors[i] = a.Motors()
		for c, set := range st.Conditions {
			if !set {
				continue
			}
			if axis.Condition(c).IsError() {
				t.General.ErrorSummary |= 1 << i
			} else {
				t.General.WarningSummary |= 1 << i
			}
		}
	}
	return t
}

// Snapshot returns the latest published status frame. The returned slice
// must not be modified.
func (s *System) Snapshot() []byte {
	return s.current.Load().frame
}

// Status returns the decoded content of the latest snapshot.
func (s *System) Status() *Telegram {
	return s.current.Load().telegram
}

// Subscribe registers cb for every published snapshot and returns a
// function that removes it.
func (s *System) Subscribe(cb StatusCallback) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = cb
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Close stops the scheduler and every command task.
func (s *System) Close() {
	s.cancel()
	for _, a := range s.axes {
		a.Close()
	}
	log.Printf("acu: closed")
}
