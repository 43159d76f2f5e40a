// Package client talks to an ACU over its binary TCP protocol.
package client

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/w1xm/acusim/acu"
	"github.com/w1xm/acusim/pointing"
	"github.com/w1xm/acusim/protocol"
)

// StatusCallback receives every decoded status telegram.
type StatusCallback func(t *acu.Telegram)

// Client sends command envelopes over one connection. All methods are safe
// for concurrent use.
type Client struct {
	mu       sync.Mutex
	conn     net.Conn
	envelope uint32
	counter  uint32
}

// Dial connects to the command port at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	dialer := &net.Dialer{
		Timeout: time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", addr, err)
	}
	log.Printf("opened %q", addr)
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send frames cmds into a single envelope. Commands with a zero counter are
// given a fresh one. It returns the command counters in order.
func (c *Client) Send(cmds ...protocol.Command) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envelope++
	env := protocol.Envelope{Counter: c.envelope}
	counters := make([]uint32, len(cmds))
	for i, cmd := range cmds {
		if cmd.Seq() == 0 {
			c.counter++
			cmd = withCounter(cmd, c.counter)
		}
		counters[i] = cmd.Seq()
		env.Commands = append(env.Commands, cmd)
	}
	data, err := env.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(data); err != nil {
		return nil, err
	}
	return counters, nil
}

func withCounter(cmd protocol.Command, counter uint32) protocol.Command {
	switch cmd := cmd.(type) {
	case protocol.ModeCommand:
		cmd.Counter = counter
		return cmd
	case protocol.ParameterCommand:
		cmd.Counter = counter
		return cmd
	case protocol.ProgramTrackCommand:
		cmd.Counter = counter
		return cmd
	}
	return cmd
}

// Mode sends a single mode command and returns its counter.
func (c *Client) Mode(sub protocol.Subsystem, mode uint16, p1, p2 float64) (uint32, error) {
	counters, err := c.Send(protocol.ModeCommand{Subsystem: sub, Mode: mode, Param1: p1, Param2: p2})
	if err != nil {
		return 0, err
	}
	return counters[0], nil
}

// Parameter sends a single parameter command and returns its counter.
func (c *Client) Parameter(sub protocol.Subsystem, param uint16, p1, p2 float64) (uint32, error) {
	counters, err := c.Send(protocol.ParameterCommand{Subsystem: sub, Parameter: param, Param1: p1, Param2: p2})
	if err != nil {
		return 0, err
	}
	return counters[0], nil
}

// LoadTable sends a program-track table starting at start and returns its
// counter.
func (c *Client) LoadTable(loadMode uint16, start time.Time, seq []protocol.TrackPoint) (uint32, error) {
	counters, err := c.Send(protocol.NewProgramTrack(0, loadMode, pointing.MJD(start), seq))
	if err != nil {
		return 0, err
	}
	return counters[0], nil
}

// Watch connects to the status port at addr and calls cb with every
// telegram until ctx is canceled or the connection fails. motors gives the
// motor count of each axis in telegram order.
func Watch(ctx context.Context, addr string, motors [3]int, cb StatusCallback) error {
	parent := ctx
	dialer := &net.Dialer{
		Timeout: time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("opening %q: %w", addr, err)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Wait for context to be canceled, then close connection.
		<-ctx.Done()
		return conn.Close()
	})
	g.Go(func() error {
		p := protocol.NewStatusParser()
		r := bufio.NewReader(conn)
		for {
			b, err := r.ReadByte()
			if err != nil {
				return fmt.Errorf("reading %q: %w", addr, err)
			}
			res, err := p.Parse(b)
			if err != nil {
				log.Printf("parsing status from %q: %v", addr, err)
				continue
			}
			if res != protocol.Complete {
				continue
			}
			t, err := acu.DecodeStatus(p.Frame(), motors)
			if err != nil {
				log.Printf("decoding status from %q: %v", addr, err)
				continue
			}
			cb(t)
		}
	})
	err = g.Wait()
	if parent.Err() != nil {
		return nil
	}
	return err
}

// Result returns the command registers sub reported in t.
func Result(t *acu.Telegram, sub protocol.Subsystem) (received, executed protocol.CommandResult, ok bool) {
	switch sub {
	case protocol.Azimuth:
		a := t.Axes[acu.AzimuthAxis]
		return a.Received, a.Executed, true
	case protocol.Elevation:
		a := t.Axes[acu.ElevationAxis]
		return a.Received, a.Executed, true
	case protocol.Tracking:
		return t.Pointing.Received, t.Pointing.Executed, true
	}
	return protocol.CommandResult{}, protocol.CommandResult{}, false
}

// Await watches addr until sub reports a final executed answer for counter,
// and returns that answer. A rejected command reports its received answer.
func Await(ctx context.Context, addr string, motors [3]int, sub protocol.Subsystem, counter uint32) (protocol.Answer, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var answer protocol.Answer
	err := Watch(ctx, addr, motors, func(t *acu.Telegram) {
		received, executed, ok := Result(t, sub)
		if !ok {
			return
		}
		switch {
		case executed.Counter == counter && executed.Answer != protocol.AnswerActive:
			answer = executed.Answer
		case received.Counter == counter && received.Answer != protocol.AnswerAccepted:
			answer = received.Answer
		default:
			return
		}
		cancel()
	})
	if err != nil {
		return protocol.AnswerNone, err
	}
	if answer == protocol.AnswerNone {
		return protocol.AnswerNone, ctx.Err()
	}
	return answer, nil
}
