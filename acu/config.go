package acu

import (
	"time"

	"github.com/w1xm/acusim/axis"
	"github.com/w1xm/acusim/protocol"
)

// Config configures a System.
type Config struct {
	// SamplingTime is the status snapshot period.
	SamplingTime time.Duration
	// StepTime is the integration period of the scheduler.
	StepTime time.Duration

	Azimuth   axis.Config
	Elevation axis.Config
	CableWrap axis.Config

	// Version is reported in the general status block.
	Version uint16
	// Clock returns the current time. It defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns the configuration of the reference antenna.
func DefaultConfig() Config {
	return Config{
		SamplingTime: 200 * time.Millisecond,
		StepTime:     10 * time.Millisecond,
		Azimuth: axis.Config{
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
		},
		Elevation: axis.Config{
			Subsystem:       protocol.Elevation,
			MotorCount:      4,
			MaxVelocity:     1.5,
			MaxAcceleration: 1,
			Min:             5,
			Max:             92,
			StowPositions:   []float64{90},
			InitialPosition: 90,
			PreLimitMargin:  1,
			StowPins:        2,
		},
		CableWrap: axis.Config{
			Subsystem:       protocol.CableWrap,
			MotorCount:      1,
			MaxVelocity:     3,
			MaxAcceleration: 1.5,
			Min:             -90,
			Max:             450,
			InitialPosition: 180,
			PreLimitMargin:  2,
		},
		Version: 0x0100,
	}
}

// MotorCounts returns the motor count of each axis in telegram order.
func (c Config) MotorCounts() [3]int {
	return [3]int{c.Azimuth.MotorCount, c.Elevation.MotorCount, c.CableWrap.MotorCount}
}

// TelegramLength returns the size of a status frame for c.
func (c Config) TelegramLength() int {
	return telegramLength(c.MotorCounts())
}
