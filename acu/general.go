package acu

import "github.com/w1xm/acusim/internal/bits"

const (
	// GeneralStatusLength is the size of the general status block.
	GeneralStatusLength = 25
	// FacilityStatusLength is the size of the facility status block.
	FacilityStatusLength = 16

	generalReserved  = 2
	facilityReserved = 4
)

// Master identifies who has control of the ACU.
type Master uint8

const (
	MasterNone   Master = 0
	MasterRemote Master = 1
	MasterPanel  Master = 2
)

// GeneralStatus is the ACU-wide status block.
type GeneralStatus struct {
	Version    uint16
	Master     Master
	Simulation bool
	// ActualTime is the ACU clock as MJD.
	ActualTime float64

	Remote           bool
	EmergencyStop    bool
	PowerOK          bool
	DoorClosed       bool
	TimeSynchronized bool

	// ErrorSummary and WarningSummary have one bit per axis in telegram
	// order, set when that axis reports any error or warning.
	ErrorSummary   uint32
	WarningSummary uint32

	TimeSource uint8
}

func (g GeneralStatus) Encode(w *bits.Writer) {
	w.U16(g.Version)
	w.U8(uint8(g.Master))
	w.Bool(g.Simulation)
	w.F64(g.ActualTime)
	w.U16(uint16(bits.Pack(g.Remote, g.EmergencyStop, g.PowerOK, g.DoorClosed, g.TimeSynchronized)))
	w.U32(g.ErrorSummary)
	w.U32(g.WarningSummary)
	w.U8(g.TimeSource)
	w.Zero(generalReserved)
}

func DecodeGeneralStatus(r *bits.Reader) GeneralStatus {
	g := GeneralStatus{
		Version:    r.U16(),
		Master:     Master(r.U8()),
		Simulation: r.Bool(),
		ActualTime: r.F64(),
	}
	f := bits.Unpack(uint64(r.U16()), 5)
	g.Remote, g.EmergencyStop, g.PowerOK, g.DoorClosed, g.TimeSynchronized = f[0], f[1], f[2], f[3], f[4]
	g.ErrorSummary = r.U32()
	g.WarningSummary = r.U32()
	g.TimeSource = r.U8()
	r.Skip(generalReserved)
	return g
}

// FacilityStatus carries the site environment. The simulator reports fixed
// nominal values.
type FacilityStatus struct {
	Temperature   int16  // 0.1 °C
	Humidity      uint16 // 0.1 %
	Pressure      uint16 // 0.1 hPa
	WindSpeed     uint16 // 0.1 m/s
	WindDirection uint16 // 0.1 °

	UPSOK          bool
	DoorClosed     bool
	FireAlarm      bool
	LightningAlarm bool
}

// nominalFacility is the environment reported by the simulator.
var nominalFacility = FacilityStatus{
	Temperature:   150,
	Humidity:      450,
	Pressure:      10132,
	WindSpeed:     20,
	WindDirection: 2700,
	UPSOK:         true,
	DoorClosed:    true,
}

func (f FacilityStatus) Encode(w *bits.Writer) {
	w.I16(f.Temperature)
	w.U16(f.Humidity)
	w.U16(f.Pressure)
	w.U16(f.WindSpeed)
	w.U16(f.WindDirection)
	w.U16(uint16(bits.Pack(f.UPSOK, f.DoorClosed, f.FireAlarm, f.LightningAlarm)))
	w.Zero(facilityReserved)
}

func DecodeFacilityStatus(r *bits.Reader) FacilityStatus {
	f := FacilityStatus{
		Temperature:   r.I16(),
		Humidity:      r.U16(),
		Pressure:      r.U16(),
		WindSpeed:     r.U16(),
		WindDirection: r.U16(),
	}
	flags := bits.Unpack(uint64(r.U16()), 4)
	f.UPSOK, f.DoorClosed, f.FireAlarm, f.LightningAlarm = flags[0], flags[1], flags[2], flags[3]
	r.Skip(facilityReserved)
	return f
}
