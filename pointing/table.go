package pointing

import (
	"log"
	"math"

	"github.com/w1xm/acusim/protocol"
)

// Program track table constraints.
const (
	InterpolationSpline = 4
	TrackingAzEl        = 1

	LoadNew    = 1
	LoadAppend = 2

	// MaxSequence is the largest sequence one command may carry.
	MaxSequence = 50
	// MinNewTable is the smallest sequence that can start a new table.
	MinNewTable = 5
)

// Load handles a program track command and returns the received answer.
func (e *Engine) Load(cmd protocol.ProgramTrackCommand) protocol.Answer {
	e.mu.Lock()
	defer e.mu.Unlock()
	answer := e.load(cmd)
	e.received = protocol.CommandResult{Counter: cmd.Counter, ID: cmd.Parameter, Answer: answer}
	if answer == protocol.AnswerAccepted {
		e.executed = protocol.CommandResult{Counter: cmd.Counter, ID: cmd.Parameter, Answer: protocol.AnswerDone}
	} else {
		log.Printf("pointing: table (counter %d, load mode %d, %d points) rejected", cmd.Counter, cmd.LoadMode, len(cmd.Sequence))
	}
	return answer
}

func (e *Engine) load(cmd protocol.ProgramTrackCommand) protocol.Answer {
	seq := cmd.Sequence
	appending := cmd.LoadMode == LoadAppend
	switch {
	case cmd.InterpolationMode != InterpolationSpline,
		cmd.TrackingMode != TrackingAzEl,
		cmd.LoadMode != LoadNew && cmd.LoadMode != LoadAppend,
		len(seq) > MaxSequence,
		cmd.LoadMode == LoadNew && len(seq) < MinNewTable,
		appending && (len(seq) == 0 || len(e.points) == 0 || cmd.StartTime != e.startTime),
		!constantStep(seq),
		!finite(cmd.StartTime, cmd.AzimuthRate, cmd.ElevationRate) || !finitePoints(seq),
		!appending && seq[0].RelativeTime != 0,
		appending && seq[0].RelativeTime <= e.points[len(e.points)-1].RelativeTime:
		return protocol.AnswerInvalid
	}

	var points []protocol.TrackPoint
	if appending {
		points = append(append(points, e.points...), seq...)
	} else {
		points = append(points, seq...)
	}
	xs := make([]float64, len(points))
	azs := make([]float64, len(points))
	els := make([]float64, len(points))
	for i, p := range points {
		xs[i], azs[i], els[i] = float64(p.RelativeTime), p.Azimuth, p.Elevation
	}
	if err := e.az.Fit(xs, azs); err != nil {
		return e.fault(err)
	}
	if err := e.el.Fit(xs, els); err != nil {
		return e.fault(err)
	}

	e.points = points
	e.loadMode = cmd.LoadMode
	e.azRate, e.elRate = cmd.AzimuthRate, cmd.ElevationRate
	if appending {
		if e.state != Running {
			e.state = Enabled
		}
		log.Printf("pointing: appended %d points, %d remaining", len(seq), len(points)-e.next)
		return protocol.AnswerAccepted
	}
	// A new table re-anchors the axes on its first point until it starts.
	e.next = 0
	e.startTime = cmd.StartTime
	e.state = Enabled
	first := points[0]
	e.current = [2]setpoint{{pos: first.Azimuth}, {pos: first.Elevation}}
	e.nextPos = [2]float64{first.Azimuth, first.Elevation}
	log.Printf("pointing: loaded %d points starting at MJD %.8f", len(points), cmd.StartTime)
	return protocol.AnswerAccepted
}

func (e *Engine) fault(err error) protocol.Answer {
	log.Printf("pointing: fitting table: %v", err)
	e.state = Fault
	return protocol.AnswerInvalid
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func finitePoints(seq []protocol.TrackPoint) bool {
	for _, p := range seq {
		if !finite(p.Azimuth, p.Elevation) {
			return false
		}
	}
	return true
}

// constantStep reports whether the relative times increase by the same
// positive step throughout seq.
func constantStep(seq []protocol.TrackPoint) bool {
	if len(seq) < 2 {
		return true
	}
	step := seq[1].RelativeTime - seq[0].RelativeTime
	if step <= 0 {
		return false
	}
	for i := 2; i < len(seq); i++ {
		if seq[i].RelativeTime-seq[i-1].RelativeTime != step {
			return false
		}
	}
	return true
}
