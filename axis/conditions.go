package axis

import (
	"encoding/json"
	"fmt"
)

// Condition indexes the warning/error flags of an axis. The index is the bit
// position in the packed condition word.
type Condition int

// Errors come first; they stay set until a reset (mode 15) unless they are
// derived continuously from the axis position.
const (
	EmergencyStop Condition = iota
	SafetyDevice
	PowerSupply
	DCBus
	Overspeed
	FinalLimitUp
	FinalLimitDown
	TargetOutOfRange
	Encoder
	PositionDeviation
	BrakeError
	BrakeNotOpened
	BrakeNotClosed
	ServoFailure
	MotorOvertemperature
	MotorOvercurrent
	AmplifierFault
	AmplifierBus
	StowPinFault
	StowPinTimeout
	Interlock
	Overtorque
	ControllerTimeout
	Fieldbus
	Communication
	ParameterError
	MasterSlave
	Synchronisation
	Tachometer
	Fan
	Lubrication
	GearboxTemperature
	StowInterlock
	TrackingError
	AxisDisabled
	CableWrapFault
	HandheldPanel
	EncoderOffset

	PreLimitUp
	PreLimitDown
	RateLimit
	AccelerationLimit
	MotorTemperatureWarning
	MotorLoadWarning
	BrakeWear
	StowPinsExtended
	LocalControl
	SimulationActive
	OffsetActive
	TrackingInactive
	TimeSyncWarning
	GearboxTemperatureWarning
	AmplifierWarning
	FanWarning
	LubricationWarning
	EncoderWarning
	VibrationWarning
	MaintenanceDue

	NumConditions
)

const firstWarning = PreLimitUp

var conditionNames = [NumConditions]string{
	"emergency_stop", "safety_device", "power_supply", "dc_bus", "overspeed",
	"final_limit_up", "final_limit_down", "target_out_of_range", "encoder",
	"position_deviation", "brake_error", "brake_not_opened", "brake_not_closed",
	"servo_failure", "motor_overtemperature", "motor_overcurrent", "amplifier_fault",
	"amplifier_bus", "stow_pin_fault", "stow_pin_timeout", "interlock", "overtorque",
	"controller_timeout", "fieldbus", "communication", "parameter_error", "master_slave",
	"synchronisation", "tachometer", "fan", "lubrication", "gearbox_temperature",
	"stow_interlock", "tracking_error", "axis_disabled", "cable_wrap_fault",
	"handheld_panel", "encoder_offset",
	"pre_limit_up", "pre_limit_down", "rate_limit", "acceleration_limit",
	"motor_temperature_warning", "motor_load_warning", "brake_wear", "stow_pins_extended",
	"local_control", "simulation_active", "offset_active", "tracking_inactive",
	"time_sync_warning", "gearbox_temperature_warning", "amplifier_warning", "fan_warning",
	"lubrication_warning", "encoder_warning", "vibration_warning", "maintenance_due",
}

func (c Condition) String() string {
	if c < 0 || c >= NumConditions {
		return fmt.Sprintf("UNKNOWN(%d)", int(c))
	}
	return conditionNames[c]
}

// IsError reports whether c is in the error group.
func (c Condition) IsError() bool {
	return c >= 0 && c < firstWarning
}

// Conditions is the full flag set of an axis.
type Conditions [NumConditions]bool

// Set returns the names of all set conditions.
func (cs Conditions) Set() []string {
	var out []string
	for i, v := range cs {
		if v {
			out = append(out, Condition(i).String())
		}
	}
	return out
}

// clearErrors drops every flag in the error group.
func (cs *Conditions) clearErrors() {
	for i := EmergencyStop; i < firstWarning; i++ {
		cs[i] = false
	}
}

// MarshalJSON encodes the set conditions as an object of names to true.
func (cs Conditions) MarshalJSON() ([]byte, error) {
	set := make(map[string]bool)
	for _, name := range cs.Set() {
		set[name] = true
	}
	return json.Marshal(set)
}

func (cs *Conditions) UnmarshalJSON(data []byte) error {
	var set map[string]bool
	if err := json.Unmarshal(data, &set); err != nil {
		return err
	}
	*cs = Conditions{}
	for i, name := range conditionNames {
		cs[i] = set[name]
	}
	return nil
}
