// Package transport serves a System over TCP: a command port whose byte
// stream is parsed by one acu.Session per connection, and a status port that
// streams every published status frame to each connected client.
package transport

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/w1xm/acusim/acu"
)

const (
	// statusQueue is the number of frames buffered per status client.
	statusQueue = 8
	// writeTimeout bounds a single status frame write.
	writeTimeout = 5 * time.Second
)

// Server serves one System.
type Server struct {
	sys *acu.System

	sessions atomic.Int64
	watchers atomic.Int64
	dropped  atomic.Uint64
}

func NewServer(sys *acu.System) *Server {
	return &Server{sys: sys}
}

// Stats reports the open connections and status frames dropped for slow
// clients.
type Stats struct {
	Sessions int64  `json:"sessions"`
	Watchers int64  `json:"watchers"`
	Dropped  uint64 `json:"dropped"`
}

func (s *Server) Stats() Stats {
	return Stats{
		Sessions: s.sessions.Load(),
		Watchers: s.watchers.Load(),
		Dropped:  s.dropped.Load(),
	}
}

// ListenAndServe serves commands on commandAddr and status on statusAddr
// until ctx is canceled. An empty address disables that port.
func (s *Server) ListenAndServe(ctx context.Context, commandAddr, statusAddr string) error {
	type listener struct {
		ln    net.Listener
		serve func(context.Context, net.Listener) error
	}
	var listeners []listener
	for _, l := range []struct {
		addr  string
		serve func(context.Context, net.Listener) error
	}{
		{commandAddr, s.ServeCommands},
		{statusAddr, s.ServeStatus},
	} {
		if l.addr == "" {
			continue
		}
		ln, err := net.Listen("tcp", l.addr)
		if err != nil {
			for _, l := range listeners {
				l.ln.Close()
			}
			return err
		}
		log.Printf("listening on %v", ln.Addr())
		listeners = append(listeners, listener{ln, l.serve})
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		g.Go(func() error { return l.serve(ctx, l.ln) })
	}
	return g.Wait()
}

// ServeCommands accepts command connections on ln until ctx is canceled.
func (s *Server) ServeCommands(ctx context.Context, ln net.Listener) error {
	return s.serve(ctx, ln, s.handleCommands)
}

// ServeStatus accepts status connections on ln until ctx is canceled.
func (s *Server) ServeStatus(ctx context.Context, ln net.Listener) error {
	return s.serve(ctx, ln, s.handleStatus)
}

func (s *Server) serve(ctx context.Context, ln net.Listener, handle func(context.Context, net.Conn, string)) error {
	go func() {
		<-ctx.Done()
		log.Printf("shutdown; closing %v", ln.Addr())
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("failed to accept: %v", err)
			continue
		}
		go handle(ctx, conn, uuid.NewString())
	}
}

// closeOnDone closes conn once ctx is done. The reading side of each handler
// reports a clean hangup as io.EOF so that the group context is canceled.
func closeOnDone(ctx context.Context, conn net.Conn) error {
	<-ctx.Done()
	return conn.Close()
}

func (s *Server) handleCommands(ctx context.Context, conn net.Conn, id string) {
	s.sessions.Add(1)
	defer s.sessions.Add(-1)
	log.Printf("session %s: accepted command connection from %v", id, conn.RemoteAddr())
	session := s.sys.NewSession(id)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return closeOnDone(ctx, conn) })
	g.Go(func() error {
		if _, err := io.Copy(session, conn); err != nil {
			return err
		}
		return io.EOF
	})
	err := g.Wait()
	log.Printf("session %s: closed: %v", id, err)
}

func (s *Server) handleStatus(ctx context.Context, conn net.Conn, id string) {
	s.watchers.Add(1)
	defer s.watchers.Add(-1)
	log.Printf("status %s: accepted connection from %v", id, conn.RemoteAddr())

	frames := make(chan []byte, statusQueue)
	frames <- s.sys.Snapshot()
	unsubscribe := s.sys.Subscribe(func(frame []byte) {
		select {
		case frames <- frame:
		default:
			s.dropped.Add(1)
		}
	})
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return closeOnDone(ctx, conn) })
	g.Go(func() error {
		// Status clients never send; reading only detects the hangup.
		if _, err := io.Copy(io.Discard, conn); err != nil {
			return err
		}
		return io.EOF
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case frame := <-frames:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if _, err := conn.Write(frame); err != nil {
					return err
				}
			}
		}
	})
	err := g.Wait()
	log.Printf("status %s: closed: %v", id, err)
}
