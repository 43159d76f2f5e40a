package acu

import (
	"log"

	"github.com/w1xm/acusim/protocol"
)

// Session is the command side of one client connection: it reassembles
// envelopes from the byte stream and dispatches them to the System. A
// Session is not safe for concurrent use.
type Session struct {
	id     string
	sys    *System
	parser *protocol.Parser
}

// NewSession returns a session identified by id in log messages.
func (s *System) NewSession(id string) *Session {
	return &Session{id: id, sys: s, parser: protocol.NewParser()}
}

// Parse consumes one byte of the command stream. When the byte completes an
// envelope it is dispatched before Parse returns; the command tasks it
// starts run in the background. Rejected envelopes are reported as
// Discarded along with the reason.
func (ss *Session) Parse(b byte) (protocol.Result, error) {
	res, err := ss.parser.Parse(b)
	if err != nil {
		log.Printf("session %s: %v", ss.id, err)
		return res, err
	}
	if res != protocol.Complete {
		return res, nil
	}
	env, err := protocol.DecodeEnvelope(ss.parser.Frame())
	if err != nil {
		log.Printf("session %s: rejecting envelope: %v", ss.id, err)
		return protocol.Discarded, err
	}
	results, err := ss.sys.Dispatch(env)
	if err != nil {
		log.Printf("session %s: rejecting envelope %d: %v", ss.id, env.Counter, err)
		return protocol.Discarded, err
	}
	for _, r := range results {
		log.Printf("session %s: envelope %d command %d id %d: %v", ss.id, env.Counter, r.Counter, r.ID, r.Answer)
	}
	return protocol.Complete, nil
}

// Write feeds p to Parse byte by byte. It never fails: per-envelope errors
// are logged and the stream resynchronizes on the next start flag.
func (ss *Session) Write(p []byte) (int, error) {
	for _, b := range p {
		ss.Parse(b)
	}
	return len(p), nil
}
