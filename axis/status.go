package axis

import (
	"fmt"

	"github.com/w1xm/acusim/internal/bits"
	"github.com/w1xm/acusim/protocol"
)

const (
	// StatusLength is the size of one axis status block.
	StatusLength = 92
	// MotorStatusLength is the size of one motor status block.
	MotorStatusLength = 27
	// MaxMotors is the width of the per-motor bit sets.
	MaxMotors = 16
	// MaxStowPins is the width of the stow pin bit sets.
	MaxStowPins = 16
)

type State uint16

const (
	Inactive     State = 0
	Deactivating State = 1
	Activating   State = 2
	Active       State = 3
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "INACTIVE"
	case Deactivating:
		return "DEACTIVATING"
	case Activating:
		return "ACTIVATING"
	case Active:
		return "ACTIVE"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(s))
}

type TrajectoryState uint16

const (
	Off              TrajectoryState = 0
	Holding          TrajectoryState = 1
	EmergencyStopped TrajectoryState = 2
	Stopped          TrajectoryState = 3
	SlewingVelocity  TrajectoryState = 4
	Position         TrajectoryState = 6
	Tracking         TrajectoryState = 7
)

func (s TrajectoryState) String() string {
	switch s {
	case Off:
		return "OFF"
	case Holding:
		return "HOLDING"
	case EmergencyStopped:
		return "EMERGENCY_STOP"
	case Stopped:
		return "STOP"
	case SlewingVelocity:
		return "SLEWING_VELOCITY"
	case Position:
		return "POSITION"
	case Tracking:
		return "TRACKING"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(s))
}

// Status is the status register of one axis. Positions are in microdegrees,
// velocities in microdegrees/second and accelerations in microdegrees/second².
type Status struct {
	Simulation bool
	Ready      bool
	ConfigOK   bool
	InitOK     bool
	Override   bool
	LowPower   bool

	Conditions Conditions

	State      State
	Trajectory TrajectoryState

	// commanded target
	PSoll int32
	// trajectory setpoint
	PBahn int32
	// actual position
	PIst int32
	// deviation between setpoint and actual position
	PAbw  int32
	VSoll int32
	VBahn int32
	VIst  int32
	ABahn int32

	POffset int32

	StowPinSelection [MaxStowPins]bool
	StowPinIn        [MaxStowPins]bool
	StowPinOut       [MaxStowPins]bool
	Stowed           bool
	StowPosOK        bool

	Received protocol.CommandResult
	Executed protocol.CommandResult

	MinPos          int32
	MaxPos          int32
	MaxVelocity     int32
	MaxAcceleration int32

	// BrakesOpen has one entry per installed motor.
	BrakesOpen [MaxMotors]bool

	// PointingState mirrors the trajectory generator while tracking.
	PointingState uint8
}

// Degrees returns the actual position in degrees.
func (s Status) Degrees() float64 {
	return float64(s.PIst) / 1e6
}

func (s Status) Velocity() float64 {
	return float64(s.VIst) / 1e6
}

// Encode appends the fixed-width status block.
func (s Status) Encode(w *bits.Writer) {
	w.Bool(s.Simulation)
	w.U8(uint8(bits.Pack(s.Ready, s.ConfigOK, s.InitOK, s.Override, s.LowPower)))
	w.U64(bits.Pack(s.Conditions[:]...))
	w.U16(uint16(s.State))
	w.U16(uint16(s.Trajectory))
	for _, v := range []int32{s.PSoll, s.PBahn, s.PIst, s.PAbw, s.VSoll, s.VBahn, s.VIst, s.ABahn, s.POffset} {
		w.I32(v)
	}
	w.U16(uint16(bits.Pack(s.StowPinSelection[:]...)))
	w.U16(uint16(bits.Pack(s.StowPinIn[:]...)))
	w.U16(uint16(bits.Pack(s.StowPinOut[:]...)))
	w.U8(uint8(bits.Pack(s.Stowed, s.StowPosOK)))
	encodeResult(w, s.Received)
	encodeResult(w, s.Executed)
	for _, v := range []int32{s.MinPos, s.MaxPos, s.MaxVelocity, s.MaxAcceleration} {
		w.I32(v)
	}
	w.U16(uint16(bits.Pack(s.BrakesOpen[:]...)))
	w.U8(s.PointingState)
}

// DecodeStatus reads one status block written by Encode.
func DecodeStatus(r *bits.Reader) Status {
	var s Status
	s.Simulation = r.Bool()
	flags := bits.Unpack(uint64(r.U8()), 5)
	s.Ready, s.ConfigOK, s.InitOK, s.Override, s.LowPower = flags[0], flags[1], flags[2], flags[3], flags[4]
	copy(s.Conditions[:], bits.Unpack(r.U64(), int(NumConditions)))
	s.State = State(r.U16())
	s.Trajectory = TrajectoryState(r.U16())
	for _, v := range []*int32{&s.PSoll, &s.PBahn, &s.PIst, &s.PAbw, &s.VSoll, &s.VBahn, &s.VIst, &s.ABahn, &s.POffset} {
		*v = r.I32()
	}
	copy(s.StowPinSelection[:], bits.Unpack(uint64(r.U16()), MaxStowPins))
	copy(s.StowPinIn[:], bits.Unpack(uint64(r.U16()), MaxStowPins))
	copy(s.StowPinOut[:], bits.Unpack(uint64(r.U16()), MaxStowPins))
	stow := bits.Unpack(uint64(r.U8()), 2)
	s.Stowed, s.StowPosOK = stow[0], stow[1]
	s.Received = decodeResult(r)
	s.Executed = decodeResult(r)
	for _, v := range []*int32{&s.MinPos, &s.MaxPos, &s.MaxVelocity, &s.MaxAcceleration} {
		*v = r.I32()
	}
	copy(s.BrakesOpen[:], bits.Unpack(uint64(r.U16()), MaxMotors))
	s.PointingState = r.U8()
	return s
}

func encodeResult(w *bits.Writer, c protocol.CommandResult) {
	w.U32(c.Counter)
	w.U16(c.ID)
	w.U16(uint16(c.Answer))
}

func decodeResult(r *bits.Reader) protocol.CommandResult {
	return protocol.CommandResult{
		Counter: r.U32(),
		ID:      r.U16(),
		Answer:  protocol.Answer(r.U16()),
	}
}

// MotorStatus is the simulated telemetry of one drive motor.
type MotorStatus struct {
	Position    int32 // microdegrees
	Velocity    int32 // microdegrees/second
	Torque      int32 // mNm
	Utilization uint16
	Active      bool
	BrakeOpen   bool
	ServoError  bool

	TemperatureWarning bool
	LoadWarning        bool
	Overcurrent        bool
	Overtemperature    bool

	Temperature int32 // millidegrees Celsius
}

func (m MotorStatus) Encode(w *bits.Writer) {
	w.I32(m.Position)
	w.I32(m.Velocity)
	w.I32(m.Torque)
	w.U16(m.Utilization)
	w.U8(uint8(bits.Pack(m.Active, m.BrakeOpen, m.ServoError)))
	w.U32(uint32(bits.Pack(m.TemperatureWarning, m.LoadWarning)))
	w.U32(uint32(bits.Pack(m.Overcurrent, m.Overtemperature)))
	w.I32(m.Temperature)
}

func DecodeMotorStatus(r *bits.Reader) MotorStatus {
	m := MotorStatus{
		Position:    r.I32(),
		Velocity:    r.I32(),
		Torque:      r.I32(),
		Utilization: r.U16(),
	}
	state := bits.Unpack(uint64(r.U8()), 3)
	m.Active, m.BrakeOpen, m.ServoError = state[0], state[1], state[2]
	warn := bits.Unpack(uint64(r.U32()), 2)
	m.TemperatureWarning, m.LoadWarning = warn[0], warn[1]
	errs := bits.Unpack(uint64(r.U32()), 2)
	m.Overcurrent, m.Overtemperature = errs[0], errs[1]
	m.Temperature = r.I32()
	return m
}
