package acu

import (
	"fmt"

	"github.com/w1xm/acusim/axis"
	"github.com/w1xm/acusim/internal/bits"
	"github.com/w1xm/acusim/pointing"
	"github.com/w1xm/acusim/protocol"
)

// Axis indexes in telegram order.
const (
	AzimuthAxis = iota
	ElevationAxis
	CableWrapAxis
	numAxes
)

// AxisIndex returns the telegram index of the axis addressed by sub.
func AxisIndex(sub protocol.Subsystem) (int, bool) {
	switch sub {
	case protocol.Azimuth:
		return AzimuthAxis, true
	case protocol.Elevation:
		return ElevationAxis, true
	case protocol.CableWrap:
		return CableWrapAxis, true
	}
	return 0, false
}

// Telegram is the decoded content of one status frame.
type Telegram struct {
	// MillisOfDay is the frame timestamp in milliseconds since midnight UTC.
	MillisOfDay uint32
	General     GeneralStatus
	Axes        [numAxes]axis.Status
	Motors      [numAxes][]axis.MotorStatus
	Pointing    pointing.Status
	Facility    FacilityStatus
}

func payloadLength(motors [numAxes]int) int {
	n := GeneralStatusLength + numAxes*axis.StatusLength + pointing.StatusLength + FacilityStatusLength
	for _, m := range motors {
		n += m * axis.MotorStatusLength
	}
	return n
}

func telegramLength(motors [numAxes]int) int {
	return protocol.MinStatusLength + payloadLength(motors)
}

// Encode serializes t into a status frame.
func (t *Telegram) Encode() []byte {
	var motors [numAxes]int
	for i, m := range t.Motors {
		motors[i] = len(m)
	}
	w := bits.NewWriter(payloadLength(motors))
	t.General.Encode(w)
	for _, a := range t.Axes {
		a.Encode(w)
	}
	for _, ms := range t.Motors {
		for _, m := range ms {
			m.Encode(w)
		}
	}
	t.Pointing.Encode(w)
	t.Facility.Encode(w)
	return protocol.EncodeStatus(t.MillisOfDay, w.Bytes())
}

// DecodeStatus parses a status frame produced by a System whose axes have
// the given motor counts.
func DecodeStatus(frame []byte, motors [numAxes]int) (*Telegram, error) {
	ms, payload, err := protocol.DecodeStatus(frame)
	if err != nil {
		return nil, err
	}
	if want := payloadLength(motors); len(payload) != want {
		return nil, fmt.Errorf("%w: status payload is %d bytes, want %d", protocol.ErrMalformedEnvelope, len(payload), want)
	}
	r := bits.NewReader(payload)
	t := &Telegram{MillisOfDay: ms}
	t.General = DecodeGeneralStatus(r)
	for i := range t.Axes {
		t.Axes[i] = axis.DecodeStatus(r)
	}
	for i, n := range motors {
		t.Motors[i] = make([]axis.MotorStatus, n)
		for j := range t.Motors[i] {
			t.Motors[i][j] = axis.DecodeMotorStatus(r)
		}
	}
	t.Pointing = pointing.DecodeStatus(r)
	t.Facility = DecodeFacilityStatus(r)
	if err := r.Err(); err != nil {
		return nil, err
	}
	return t, nil
}
