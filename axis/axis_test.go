package axis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/w1xm/acusim/internal/bits"
	"github.com/w1xm/acusim/protocol"
)

var testConfig = Config{
	Subsystem:       protocol.Azimuth,
	MotorCount:      8,
	MaxVelocity:     3,
	MaxAcceleration: 1.5,
	Min:             -90,
	Max:             450,
	StowPositions:   []float64{180, 270},
	InitialPosition: 180,
	PreLimitMargin:  2,
	StowPins:        2,
}

type fakeTracker struct {
	mu sync.Mutex
	sp Setpoint
}

func (f *fakeTracker) Setpoint(protocol.Subsystem) Setpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sp
}

func (f *fakeTracker) set(sp Setpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sp = sp
}

func newAxis(t *testing.T, track Tracker) *Controller {
	t.Helper()
	c := New(context.Background(), testConfig, track)
	t.Cleanup(c.Close)
	return c
}

var counter uint32

func mode(id uint16, p1, p2 float64) protocol.ModeCommand {
	counter++
	return protocol.ModeCommand{Subsystem: protocol.Azimuth, Mode: id, Counter: counter, Param1: p1, Param2: p2}
}

func waitExecuted(t *testing.T, c *Controller, cmd protocol.ModeCommand, answer protocol.Answer) {
	t.Helper()
	want := protocol.CommandResult{Counter: cmd.Counter, ID: cmd.Mode, Answer: answer}
	require.Eventually(t, func() bool {
		return c.Status().Executed == want
	}, 2*time.Second, time.Millisecond, "executed never became %+v", want)
}

func activate(t *testing.T, c *Controller) {
	t.Helper()
	cmd := mode(ModeActive, 0, 0)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(cmd))
	waitExecuted(t, c, cmd, protocol.AnswerDone)
}

func advance(c *Controller, dt time.Duration, n int) {
	for i := 0; i < n; i++ {
		c.Advance(dt)
	}
}

func TestStep(t *testing.T) {
	for _, test := range []struct {
		name        string
		cur, target int32
		rate, dt    float64
		lo, hi      int32
		want        int32
	}{
		{"up", 0, 1000, 100, 1, -5000, 5000, 100},
		{"down", 0, -1000, 100, 1, -5000, 5000, -100},
		{"negative rate", 0, 1000, -100, 1, -5000, 5000, 100},
		{"arrive", 950, 1000, 100, 1, -5000, 5000, 1000},
		{"at target", 1000, 1000, 100, 1, -5000, 5000, 1000},
		{"clamp high", 4990, 9000, 100, 1, -5000, 5000, 5000},
		{"clamp low", -4990, -9000, 100, 1, -5000, 5000, -5000},
		{"rounding", 0, 1000, 0.75e6, 0.01, -1e9, 1e9, 1000},
		{"half step", 0, 1e6, 0.75e6, 0.01, -1e9, 1e9, 7500},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := Step(test.cur, test.target, test.rate, test.dt, test.lo, test.hi); got != test.want {
				t.Errorf("Step = %d, want %d", got, test.want)
			}
		})
	}
}

func TestPresetAbsolute(t *testing.T) {
	c := newAxis(t, nil)
	activate(t, c)
	cmd := mode(ModePresetAbsolute, 179.25, -0.75)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(cmd))
	require.Equal(t, Position, c.Status().Trajectory)
	advance(c, 10*time.Millisecond, 110)
	waitExecuted(t, c, cmd, protocol.AnswerDone)
	s := c.Status()
	require.Equal(t, int32(179250000), s.PIst)
	require.Equal(t, int32(179250000), s.PSoll)
	require.Equal(t, int32(0), s.VIst)
}

func TestPresetOutOfRange(t *testing.T) {
	c := newAxis(t, nil)
	activate(t, c)
	before := c.Status().PSoll
	cmd := mode(ModePresetAbsolute, 500, 1)
	require.Equal(t, protocol.AnswerInvalid, c.Execute(cmd))
	s := c.Status()
	require.Equal(t, protocol.CommandResult{Counter: cmd.Counter, ID: ModePresetAbsolute, Answer: protocol.AnswerInvalid}, s.Received)
	require.Equal(t, before, s.PSoll)
}

func TestModePreconditions(t *testing.T) {
	for _, test := range []struct {
		name   string
		active bool
		cmd    protocol.ModeCommand
		want   protocol.Answer
	}{
		{"preset inactive", false, mode(ModePresetAbsolute, 10, 1), protocol.AnswerWrongState},
		{"preset too fast", true, mode(ModePresetAbsolute, 10, 3.5), protocol.AnswerInvalid},
		{"relative out of range", true, mode(ModePresetRelative, 300, 1), protocol.AnswerInvalid},
		{"slew percent", true, mode(ModeSlew, 1.5, 1), protocol.AnswerInvalid},
		{"stop inactive", false, mode(ModeStop, 0, 0), protocol.AnswerWrongState},
		{"track too fast", true, mode(ModeProgramTrack, 0, -4), protocol.AnswerInvalid},
		{"reset active", true, mode(ModeReset, 0, 0), protocol.AnswerWrongState},
		{"reset inactive", false, mode(ModeReset, 0, 0), protocol.AnswerAccepted},
		{"interlock", false, mode(ModeInterlock, 0, 0), protocol.AnswerAccepted},
		{"stow index", true, mode(ModeDriveToStow, 2, 0), protocol.AnswerInvalid},
		{"stow fractional index", true, mode(ModeDriveToStow, 0.5, 0), protocol.AnswerInvalid},
		{"stow too fast", true, mode(ModeDriveToStow, 1, 2), protocol.AnswerInvalid},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := newAxis(t, nil)
			if test.active {
				activate(t, c)
			}
			if got := c.Execute(test.cmd); got != test.want {
				t.Errorf("Execute = %v, want %v", got, test.want)
			}
			want := protocol.CommandResult{Counter: test.cmd.Counter, ID: test.cmd.Mode, Answer: test.want}
			if diff := cmp.Diff(c.Status().Received, want); diff != "" {
				t.Errorf("unexpected received register: got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestUnknownMode(t *testing.T) {
	c := newAxis(t, nil)
	cmd := mode(99, 0, 0)
	require.Equal(t, protocol.AnswerInvalid, c.Execute(cmd))
	require.Equal(t, protocol.CommandResult{Counter: cmd.Counter, Answer: protocol.AnswerInvalid}, c.Status().Received)
}

func TestActivateTwice(t *testing.T) {
	c := newAxis(t, nil)
	activate(t, c)
	before := c.Status()
	require.Equal(t, protocol.AnswerWrongState, c.Execute(mode(ModeActive, 0, 0)))
	after := c.Status()
	require.Equal(t, Active, after.State)
	require.Equal(t, before.Executed, after.Executed)
	for i := 0; i < testConfig.MotorCount; i++ {
		require.True(t, after.BrakesOpen[i], "brake %d", i)
	}
}

func TestDeactivate(t *testing.T) {
	c := newAxis(t, nil)
	activate(t, c)
	cmd := mode(ModeInactive, 0, 0)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(cmd))
	waitExecuted(t, c, cmd, protocol.AnswerDone)
	s := c.Status()
	require.Equal(t, Inactive, s.State)
	require.Equal(t, Off, s.Trajectory)
	require.Equal(t, [MaxMotors]bool{}, s.BrakesOpen)
}

func TestBrakeTime(t *testing.T) {
	cfg := testConfig
	cfg.BrakeTime = 50 * time.Millisecond
	c := New(context.Background(), cfg, nil)
	defer c.Close()
	cmd := mode(ModeActive, 0, 0)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(cmd))
	require.Equal(t, Activating, c.Status().State)
	// Motion is refused until the brakes are open.
	require.Equal(t, protocol.AnswerWrongState, c.Execute(mode(ModeStop, 0, 0)))
	waitExecuted(t, c, cmd, protocol.AnswerDone)
	require.Equal(t, Active, c.Status().State)
}

func TestSupersede(t *testing.T) {
	c := newAxis(t, nil)
	activate(t, c)
	first := mode(ModePresetAbsolute, 200, 1)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(first))
	waitExecuted(t, c, first, protocol.AnswerActive)
	advance(c, 100*time.Millisecond, 5)

	second := mode(ModePresetAbsolute, 170, 3)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(second))
	waitExecuted(t, c, second, protocol.AnswerActive)
	advance(c, 100*time.Millisecond, 50)
	waitExecuted(t, c, second, protocol.AnswerDone)
	require.Equal(t, int32(170000000), c.Status().PIst)

	// The superseded task must never report completion.
	require.Never(t, func() bool {
		return c.Status().Executed.Counter == first.Counter
	}, 50*time.Millisecond, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.Reap() == 0 }, time.Second, time.Millisecond)
}

func TestStop(t *testing.T) {
	c := newAxis(t, nil)
	activate(t, c)
	preset := mode(ModePresetAbsolute, 100, 3)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(preset))
	advance(c, 100*time.Millisecond, 3)
	stop := mode(ModeStop, 0, 0)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(stop))
	waitExecuted(t, c, stop, protocol.AnswerDone)
	advance(c, 100*time.Millisecond, 3)
	s := c.Status()
	require.Equal(t, Stopped, s.Trajectory)
	require.Equal(t, int32(179100000), s.PIst)
	require.Equal(t, s.PIst, s.PSoll)
	require.Equal(t, int32(0), s.VIst)
	require.Equal(t, int32(0), s.VSoll)
}

func TestSlew(t *testing.T) {
	c := newAxis(t, nil)
	activate(t, c)
	cmd := mode(ModeSlew, -0.5, 2)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(cmd))
	require.Equal(t, SlewingVelocity, c.Status().Trajectory)
	c.Advance(time.Second)
	require.Equal(t, int32(179000000), c.Status().PIst)
	require.Equal(t, int32(-1000000), c.Status().VIst)
	// Runs into the lower bound and stays there.
	advance(c, 10*time.Second, 40)
	waitExecuted(t, c, cmd, protocol.AnswerDone)
	s := c.Status()
	require.Equal(t, s.MinPos, s.PIst)
	require.True(t, s.Conditions[PreLimitDown])
}

func TestTracking(t *testing.T) {
	track := &fakeTracker{}
	c := newAxis(t, track)
	activate(t, c)
	cmd := mode(ModeProgramTrack, 0, 1)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(cmd))
	c.Advance(10 * time.Millisecond)
	require.True(t, c.Status().Conditions[TrackingInactive])
	require.Equal(t, int32(180000000), c.Status().PIst)

	track.set(Setpoint{Position: 180500000, State: 3, Valid: true})
	c.Advance(100 * time.Millisecond)
	s := c.Status()
	require.Equal(t, int32(180100000), s.PIst, "rate limited to 1 deg/s")
	require.Equal(t, int32(180500000), s.PBahn)
	require.Equal(t, uint8(3), s.PointingState)

	off := protocol.ParameterCommand{Subsystem: protocol.Azimuth, Parameter: ParamAbsoluteOffset, Counter: 1000, Param1: 0.25}
	require.Equal(t, protocol.AnswerAccepted, c.SetParameter(off))
	track.set(Setpoint{Position: 180500000, State: 4, Valid: true, Done: true})
	advance(c, 100*time.Millisecond, 10)
	waitExecuted(t, c, cmd, protocol.AnswerDone)
	require.Equal(t, int32(180750000), c.Status().PIst)
}

func TestTrackTargetClamped(t *testing.T) {
	track := &fakeTracker{}
	c := newAxis(t, track)
	activate(t, c)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(mode(ModeProgramTrack, 0, 0)))
	track.set(Setpoint{Position: 900000000, Valid: true})
	for i := 0; i < 200; i++ {
		c.Advance(time.Second)
		s := c.Status()
		require.GreaterOrEqual(t, s.PIst, s.MinPos)
		require.LessOrEqual(t, s.PIst, s.MaxPos)
	}
	s := c.Status()
	require.Equal(t, s.MaxPos, s.PIst)
	require.True(t, s.Conditions[TargetOutOfRange])
	require.True(t, s.Conditions[FinalLimitUp])

	// Latched errors survive until a reset from Inactive.
	deact := mode(ModeInactive, 0, 0)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(deact))
	waitExecuted(t, c, deact, protocol.AnswerDone)
	require.True(t, c.Status().Conditions[TargetOutOfRange])
	require.Equal(t, protocol.AnswerAccepted, c.Execute(mode(ModeReset, 0, 0)))
	require.False(t, c.Status().Conditions[TargetOutOfRange])
	require.True(t, c.Status().Conditions[PreLimitUp])
}

func TestRetrackAfterCompletedTable(t *testing.T) {
	track := &fakeTracker{}
	c := newAxis(t, track)
	activate(t, c)
	first := mode(ModeProgramTrack, 0, 0)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(first))
	track.set(Setpoint{Position: 180500000, State: 4, Valid: true, Done: true})
	advance(c, 100*time.Millisecond, 5)
	waitExecuted(t, c, first, protocol.AnswerDone)

	// A fresh table holds the axis on its first point until it starts.
	track.set(Setpoint{Position: 200000000, State: 2, Valid: true})
	second := mode(ModeProgramTrack, 0, 0)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(second))
	waitExecuted(t, c, second, protocol.AnswerActive)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, protocol.AnswerActive, c.Status().Executed.Answer, "completed before following the new table")

	advance(c, 100*time.Millisecond, 70)
	require.Equal(t, int32(200000000), c.Status().PIst)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, protocol.AnswerActive, c.Status().Executed.Answer)

	track.set(Setpoint{Position: 200000000, State: 4, Valid: true, Done: true})
	c.Advance(10 * time.Millisecond)
	waitExecuted(t, c, second, protocol.AnswerDone)
}

func TestFinalLimits(t *testing.T) {
	c := newAxis(t, nil)
	activate(t, c)
	require.False(t, c.Status().Conditions[FinalLimitUp])
	require.False(t, c.Status().Conditions[FinalLimitDown])

	for _, test := range []struct {
		name     string
		cmd      protocol.ModeCommand
		up, down bool
	}{
		{"slew up", mode(ModeSlew, 1, 3), true, false},
		{"slew down", mode(ModeSlew, -1, 3), false, true},
		{"preset inside", mode(ModePresetAbsolute, 180, 3), false, false},
		{"preset to min", mode(ModePresetAbsolute, -90, 3), false, true},
		{"preset to max", mode(ModePresetAbsolute, 450, 3), true, false},
	} {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, protocol.AnswerAccepted, c.Execute(test.cmd))
			advance(c, 10*time.Second, 20)
			waitExecuted(t, c, test.cmd, protocol.AnswerDone)
			s := c.Status()
			require.Equal(t, test.up, s.Conditions[FinalLimitUp], "final_limit_up at %d", s.PIst)
			require.Equal(t, test.down, s.Conditions[FinalLimitDown], "final_limit_down at %d", s.PIst)
		})
	}
}

func checkStowPins(t *testing.T, s Status) {
	t.Helper()
	for i, selected := range s.StowPinSelection {
		if !selected {
			require.False(t, s.StowPinIn[i] || s.StowPinOut[i], "unselected pin %d driven", i)
			continue
		}
		require.NotEqual(t, s.StowPinIn[i], s.StowPinOut[i], "pin %d", i)
		require.Equal(t, s.Stowed, s.StowPinIn[i], "pin %d", i)
	}
}

func TestStow(t *testing.T) {
	c := newAxis(t, nil)
	checkStowPins(t, c.Status())
	require.True(t, c.Status().StowPosOK)

	stow := mode(ModeStow, 0, 0)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(stow))
	waitExecuted(t, c, stow, protocol.AnswerDone)
	require.True(t, c.Status().Stowed)
	checkStowPins(t, c.Status())

	unstow := mode(ModeUnstow, 0, 0)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(unstow))
	waitExecuted(t, c, unstow, protocol.AnswerDone)
	checkStowPins(t, c.Status())
	require.False(t, c.Status().Stowed)

	activate(t, c)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(mode(ModePresetAbsolute, 200, 3)))
	advance(c, time.Second, 10)
	require.False(t, c.Status().StowPosOK)
	require.Equal(t, protocol.AnswerWrongState, c.Execute(mode(ModeStow, 0, 0)))

	drive := mode(ModeDriveToStow, 1, 0)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(drive))
	for i := 0; i < 60; i++ {
		c.Advance(time.Second)
		checkStowPins(t, c.Status())
	}
	waitExecuted(t, c, drive, protocol.AnswerDone)
	s := c.Status()
	require.Equal(t, int32(270000000), s.PIst)
	require.True(t, s.Stowed)
	checkStowPins(t, s)
}

func TestSetParameter(t *testing.T) {
	c := newAxis(t, nil)
	cmd := protocol.ParameterCommand{Subsystem: protocol.Azimuth, Parameter: ParamAbsoluteOffset, Counter: 1, Param1: 1}
	require.Equal(t, protocol.AnswerWrongState, c.SetParameter(cmd))

	activate(t, c)
	for _, test := range []struct {
		param  uint16
		value  float64
		answer protocol.Answer
		offset int32
	}{
		{ParamAbsoluteOffset, 1.5, protocol.AnswerAccepted, 1500000},
		{ParamRelativeOffset, -0.25, protocol.AnswerAccepted, 1250000},
		{ParamAbsoluteOffset, 541, protocol.AnswerInvalid, 1250000},
		{ParamRelativeOffset, 539, protocol.AnswerInvalid, 1250000},
		{7, 0, protocol.AnswerInvalid, 1250000},
	} {
		cmd.Counter++
		cmd.Parameter, cmd.Param1 = test.param, test.value
		require.Equal(t, test.answer, c.SetParameter(cmd), "param %d value %v", test.param, test.value)
		require.Equal(t, test.offset, c.Status().POffset)
	}
	require.True(t, c.Status().Conditions[OffsetActive])
}

func TestStatusEncoding(t *testing.T) {
	c := newAxis(t, nil)
	activate(t, c)
	require.Equal(t, protocol.AnswerAccepted, c.Execute(mode(ModePresetRelative, -1, 0)))
	c.Advance(100 * time.Millisecond)
	s := c.Status()

	w := bits.NewWriter(StatusLength)
	s.Encode(w)
	require.Equal(t, StatusLength, w.Len())
	got := DecodeStatus(bits.NewReader(w.Bytes()))
	if diff := cmp.Diff(got, s); diff != "" {
		t.Errorf("unexpected status: got(-)/want(+):\n%s", diff)
	}

	motors := c.Motors()
	require.Len(t, motors, testConfig.MotorCount)
	w = bits.NewWriter(MotorStatusLength)
	motors[0].Encode(w)
	require.Equal(t, MotorStatusLength, w.Len())
	if diff := cmp.Diff(DecodeMotorStatus(bits.NewReader(w.Bytes())), motors[0]); diff != "" {
		t.Errorf("unexpected motor status: got(-)/want(+):\n%s", diff)
	}
	require.True(t, motors[0].Active)
	require.Equal(t, s.VIst, motors[0].Velocity)
}

func TestFollow(t *testing.T) {
	cfg := testConfig
	cfg.Subsystem = protocol.CableWrap
	cfg.MotorCount = 1
	cfg.Min, cfg.Max = -90, 200
	wrap := New(context.Background(), cfg, nil)
	defer wrap.Close()

	master := Status{State: Active, Trajectory: Position, PSoll: 250000000, PBahn: 190000000, PIst: 190000000}
	wrap.Follow(master, time.Second)
	s := wrap.Status()
	require.Equal(t, Active, s.State)
	require.Equal(t, Position, s.Trajectory)
	require.Equal(t, int32(190000000), s.PIst)
	require.Equal(t, int32(200000000), s.PSoll)
	require.Equal(t, int32(10000000), s.VIst)
	require.True(t, s.BrakesOpen[0])

	master.PIst = 260000000
	wrap.Follow(master, time.Second)
	require.Equal(t, int32(200000000), wrap.Status().PIst)
}

func TestConditionsJSON(t *testing.T) {
	var cs Conditions
	cs[FinalLimitUp] = true
	cs[SimulationActive] = true
	data, err := json.Marshal(cs)
	require.NoError(t, err)
	require.JSONEq(t, `{"final_limit_up":true,"simulation_active":true}`, string(data))

	var got Conditions
	require.NoError(t, json.Unmarshal(data, &got))
	if diff := cmp.Diff(got, cs); diff != "" {
		t.Errorf("round trip: got(-)/want(+):\n%s", diff)
	}
	require.Equal(t, []string{"final_limit_up", "simulation_active"}, got.Set())
}
