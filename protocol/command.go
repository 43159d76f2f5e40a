package protocol

import (
	"fmt"

	"github.com/w1xm/acusim/internal/bits"
)

const (
	// ModeCommandLength is also the length of a parameter command.
	ModeCommandLength        = 26
	ProgramTrackHeaderLength = 42
	TrackPointLength         = 20
	ProgramTrackParameter    = 61
	typeFieldLength          = 2
)

// Command is one of ModeCommand, ParameterCommand or ProgramTrackCommand.
type Command interface {
	CommandType() CommandType
	Target() Subsystem
	Seq() uint32
}

// ModeCommand changes the operating mode of a subsystem.
type ModeCommand struct {
	Subsystem Subsystem
	Mode      uint16
	Counter   uint32
	Param1    float64
	Param2    float64
}

func (ModeCommand) CommandType() CommandType { return ModeCommandType }
func (c ModeCommand) Target() Subsystem { return c.Subsystem }
func (c ModeCommand) Seq() uint32 { return c.Counter }

// ParameterCommand adjusts a numeric parameter without changing mode.
type ParameterCommand struct {
	Subsystem Subsystem
	Parameter uint16
	Counter   uint32
	Param1    float64
	Param2    float64
}

func (ParameterCommand) CommandType() CommandType { return ParameterCommandType }
func (c ParameterCommand) Target() Subsystem { return c.Subsystem }
func (c ParameterCommand) Seq() uint32 { return c.Counter }

// TrackPoint is one program-track table entry.
type TrackPoint struct {
	RelativeTime int32 // milliseconds since StartTime
	Azimuth      float64
	Elevation    float64
}

// ProgramTrackCommand loads or extends the program-track table.
type ProgramTrackCommand struct {
	Subsystem         Subsystem
	Counter           uint32
	Parameter         uint16
	InterpolationMode uint16
	TrackingMode      uint16
	LoadMode          uint16
	StartTime         float64 // MJD
	AzimuthRate       float64
	ElevationRate     float64
	Sequence          []TrackPoint
}

func (ProgramTrackCommand) CommandType() CommandType { return ProgramTrackCommandType }
func (c ProgramTrackCommand) Target() Subsystem { return c.Subsystem }
func (c ProgramTrackCommand) Seq() uint32 { return c.Counter }

// NewProgramTrack fills in the fixed header fields of a program-track command.
func NewProgramTrack(counter uint32, loadMode uint16, startTime float64, seq []TrackPoint) ProgramTrackCommand {
	return ProgramTrackCommand{
		Subsystem:         Tracking,
		Counter:           counter,
		Parameter:         ProgramTrackParameter,
		InterpolationMode: 4,
		TrackingMode:      1,
		LoadMode:          loadMode,
		StartTime:         startTime,
		Sequence:          seq,
	}
}

// EncodedLength returns the number of bytes c occupies on the wire.
func EncodedLength(c Command) int {
	if pt, ok := c.(ProgramTrackCommand); ok {
		return ProgramTrackHeaderLength + TrackPointLength*len(pt.Sequence)
	}
	return ModeCommandLength
}

func appendCommand(w *bits.Writer, c Command) error {
	switch c := c.(type) {
	case ModeCommand:
		appendFixed(w, ModeCommandType, c.Subsystem, c.Counter, c.Mode, c.Param1, c.Param2)
	case ParameterCommand:
		appendFixed(w, ParameterCommandType, c.Subsystem, c.Counter, c.Parameter, c.Param1, c.Param2)
	case ProgramTrackCommand:
		if len(c.Sequence) > 0xFFFF {
			return fmt.Errorf("%w: %d track points", ErrMalformedEnvelope, len(c.Sequence))
		}
		w.U16(uint16(ProgramTrackCommandType))
		w.U16(uint16(c.Subsystem))
		w.U32(c.Counter)
		w.U16(c.Parameter)
		w.U16(c.InterpolationMode)
		w.U16(c.TrackingMode)
		w.U16(c.LoadMode)
		w.U16(uint16(len(c.Sequence)))
		w.F64(c.StartTime)
		w.F64(c.AzimuthRate)
		w.F64(c.ElevationRate)
		for _, p := range c.Sequence {
			w.I32(p.RelativeTime)
			w.F64(p.Azimuth)
			w.F64(p.Elevation)
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownCommand, c)
	}
	return nil
}

func appendFixed(w *bits.Writer, t CommandType, s Subsystem, counter uint32, id uint16, p1, p2 float64) {
	w.U16(uint16(t))
	w.U16(uint16(s))
	w.U32(counter)
	w.U16(id)
	w.F64(p1)
	w.F64(p2)
}

// EncodeCommand serializes a single command record.
func EncodeCommand(c Command) ([]byte, error) {
	w := bits.NewWriter(EncodedLength(c))
	if err := appendCommand(w, c); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeCommand parses the command at the start of b and returns it with
// the number of bytes consumed.
func DecodeCommand(b []byte) (Command, int, error) {
	if len(b) < typeFieldLength {
		return nil, 0, fmt.Errorf("%w: truncated command type", ErrMalformedEnvelope)
	}
	r := bits.NewReader(b)
	switch t := CommandType(r.U16()); t {
	case ModeCommandType, ParameterCommandType:
		if len(b) < ModeCommandLength {
			return nil, 0, fmt.Errorf("%w: truncated %s command", ErrMalformedEnvelope, t)
		}
		s := Subsystem(r.U16())
		counter := r.U32()
		id := r.U16()
		p1, p2 := r.F64(), r.F64()
		if t == ModeCommandType {
			return ModeCommand{Subsystem: s, Mode: id, Counter: counter, Param1: p1, Param2: p2}, ModeCommandLength, nil
		}
		return ParameterCommand{Subsystem: s, Parameter: id, Counter: counter, Param1: p1, Param2: p2}, ModeCommandLength, nil
	case ProgramTrackCommandType:
		if len(b) < ProgramTrackHeaderLength {
			return nil, 0, fmt.Errorf("%w: truncated program track header", ErrMalformedEnvelope)
		}
		c := ProgramTrackCommand{
			Subsystem:         Subsystem(r.U16()),
			Counter:           r.U32(),
			Parameter:         r.U16(),
			InterpolationMode: r.U16(),
			TrackingMode:      r.U16(),
			LoadMode:          r.U16(),
		}
		n := int(r.U16())
		c.StartTime = r.F64()
		c.AzimuthRate = r.F64()
		c.ElevationRate = r.F64()
		length := ProgramTrackHeaderLength + n*TrackPointLength
		if len(b) < length {
			return nil, 0, fmt.Errorf("%w: program track declares %d points, %d bytes available", ErrMalformedEnvelope, n, len(b)-ProgramTrackHeaderLength)
		}
		if n > 0 {
			c.Sequence = make([]TrackPoint, n)
		}
		for i := range c.Sequence {
			c.Sequence[i] = TrackPoint{
				RelativeTime: r.I32(),
				Azimuth:      r.F64(),
				Elevation:    r.F64(),
			}
		}
		return c, length, nil
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownCommand, t)
	}
}

// DecodeCommands splits payload into exactly count commands.
func DecodeCommands(payload []byte, count int) ([]Command, error) {
	cmds := make([]Command, 0, count)
	off := 0
	for i := 0; i < count; i++ {
		if off >= len(payload) {
			return nil, fmt.Errorf("%w: declared %d commands, found %d", ErrMalformedEnvelope, count, i)
		}
		c, n, err := DecodeCommand(payload[off:])
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
		off += n
	}
	if off != len(payload) {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d commands", ErrMalformedEnvelope, len(payload)-off, count)
	}
	return cmds, nil
}
