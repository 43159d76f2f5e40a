package pointing

import (
	"github.com/w1xm/acusim/internal/bits"
	"github.com/w1xm/acusim/protocol"
)

// StatusLength is the size of the pointing status block.
const StatusLength = 129

// statusReserved pads the block to StatusLength.
const statusReserved = 17

// AxisTrack is the generator output for one axis in wire units.
type AxisTrack struct {
	Position     int32
	Velocity     int32
	Acceleration int32
	// NextPosition is the next table point ahead of the cursor.
	NextPosition int32
}

type Status struct {
	State      State
	TimeSource TimeSource
	// TimeOffset is in seconds.
	TimeOffset float64
	// StartCorrection is in milliseconds.
	StartCorrection int32
	StartTime       float64
	// ActualTime is the effective clock as MJD.
	ActualTime float64

	InterpolationMode uint16
	TrackingMode      uint16
	LoadMode          uint16
	TableLength       uint16
	Remaining         uint16
	// EndTime is the relative time of the last table point in ms.
	EndTime int32
	// Elapsed is the current table time in ms.
	Elapsed int32

	Azimuth   AxisTrack
	Elevation AxisTrack

	AzimuthRate   float64
	ElevationRate float64

	Received protocol.CommandResult
	Executed protocol.CommandResult
}

// Status returns the current pointing status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now
	if now.IsZero() {
		now = e.clock()
	}
	s := Status{
		State:             e.state,
		TimeSource:        e.timeSource,
		TimeOffset:        e.timeOffset,
		StartCorrection:   saturate(e.startCorrection),
		StartTime:         e.startTime,
		ActualTime:        MJD(e.effectiveNow(now)),
		InterpolationMode: InterpolationSpline,
		TrackingMode:      TrackingAzEl,
		LoadMode:          e.loadMode,
		TableLength:       uint16(len(e.points)),
		Remaining:         uint16(len(e.points) - e.next),
		Elapsed:           saturate(e.elapsed),
		AzimuthRate:       e.azRate,
		ElevationRate:     e.elRate,
		Received:          e.received,
		Executed:          e.executed,
	}
	if n := len(e.points); n > 0 {
		s.EndTime = e.points[n-1].RelativeTime
	}
	for i, t := range []*AxisTrack{&s.Azimuth, &s.Elevation} {
		sp := e.setpoint(i)
		*t = AxisTrack{
			Position:     sp.Position,
			Velocity:     sp.Velocity,
			Acceleration: sp.Acceleration,
			NextPosition: micro(e.nextPos[i]),
		}
	}
	return s
}

// Encode appends the fixed-width pointing block.
func (s Status) Encode(w *bits.Writer) {
	w.U8(uint8(s.State))
	w.U8(uint8(s.TimeSource))
	w.F64(s.TimeOffset)
	w.I32(s.StartCorrection)
	w.F64(s.StartTime)
	w.F64(s.ActualTime)
	w.U16(s.InterpolationMode)
	w.U16(s.TrackingMode)
	w.U16(s.LoadMode)
	w.U16(s.TableLength)
	w.U16(s.Remaining)
	w.I32(s.EndTime)
	w.I32(s.Elapsed)
	for _, t := range []AxisTrack{s.Azimuth, s.Elevation} {
		w.I32(t.Position)
		w.I32(t.Velocity)
		w.I32(t.Acceleration)
		w.I32(t.NextPosition)
	}
	w.F64(s.AzimuthRate)
	w.F64(s.ElevationRate)
	for _, c := range []protocol.CommandResult{s.Received, s.Executed} {
		w.U32(c.Counter)
		w.U16(c.ID)
		w.U16(uint16(c.Answer))
	}
	w.Zero(statusReserved)
}

// DecodeStatus reads a block written by Encode.
func DecodeStatus(r *bits.Reader) Status {
	var s Status
	s.State = State(r.U8())
	s.TimeSource = TimeSource(r.U8())
	s.TimeOffset = r.F64()
	s.StartCorrection = r.I32()
	s.StartTime = r.F64()
	s.ActualTime = r.F64()
	s.InterpolationMode = r.U16()
	s.TrackingMode = r.U16()
	s.LoadMode = r.U16()
	s.TableLength = r.U16()
	s.Remaining = r.U16()
	s.EndTime = r.I32()
	s.Elapsed = r.I32()
	for _, t := range []*AxisTrack{&s.Azimuth, &s.Elevation} {
		t.Position = r.I32()
		t.Velocity = r.I32()
		t.Acceleration = r.I32()
		t.NextPosition = r.I32()
	}
	s.AzimuthRate = r.F64()
	s.ElevationRate = r.F64()
	for _, c := range []*protocol.CommandResult{&s.Received, &s.Executed} {
		c.Counter = r.U32()
		c.ID = r.U16()
		c.Answer = protocol.Answer(r.U16())
	}
	r.Skip(statusReserved)
	return s
}

