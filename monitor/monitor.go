// Package monitor serves a live view of a System over HTTP: the decoded
// status as JSON, a websocket that pushes every snapshot, and a small JSON
// command endpoint for manual operation.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/w1xm/acusim/acu"
	"github.com/w1xm/acusim/axis"
	"github.com/w1xm/acusim/protocol"
)

const writeTimeout = 15 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the HTTP front end of one System.
type Server struct {
	sys *acu.System

	// Stats, if set, is reported by /api/stats.
	Stats func() interface{}
	// StaticDir, if set, is served at /.
	StaticDir string
	// Password, if set, is required as the basic auth password of command
	// requests and websocket connections.
	Password string

	mu      sync.Mutex
	counter uint32
}

func NewServer(sys *acu.System) *Server {
	return &Server{sys: sys}
}

// Command is a mode or parameter command in JSON form.
type Command struct {
	Command   string  `json:"command"`
	Subsystem uint16  `json:"subsystem"`
	ID        uint16  `json:"id"`
	Param1    float64 `json:"p1"`
	Param2    float64 `json:"p2"`
}

// Result is the received answer of one JSON command.
type Result struct {
	Counter uint32 `json:"counter"`
	ID      uint16 `json:"id"`
	Answer  string `json:"answer"`
	Code    uint16 `json:"code"`
}

// Handler returns the router for s.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.StatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/axis/{subsystem:[0-9]+}", s.AxisHandler).Methods(http.MethodGet)
	api.HandleFunc("/command", s.CommandHandler).Methods(http.MethodPost)
	api.HandleFunc("/stats", s.StatsHandler).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.StatusSocketHandler)
	if s.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.StaticDir)))
	}
	return r
}

// ListenAndServe serves s on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Handler:     s.Handler(),
		Addr:        addr,
		ReadTimeout: 15 * time.Second,
	}
	go func() {
		<-ctx.Done()
		log.Printf("shutdown; closing monitor on %s", addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Printf("monitor listening on %s", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Print(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sys.Status())
}

// AxisHandler reports the status and motors of the axis named by the
// subsystem path variable.
func (s *Server) AxisHandler(w http.ResponseWriter, r *http.Request) {
	sub, err := strconv.ParseUint(mux.Vars(r)["subsystem"], 10, 16)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	i, ok := acu.AxisIndex(protocol.Subsystem(sub))
	if !ok {
		http.Error(w, fmt.Sprintf("no axis %d", sub), http.StatusNotFound)
		return
	}
	t := s.sys.Status()
	writeJSON(w, struct {
		Status axis.Status        `json:"status"`
		Motors []axis.MotorStatus `json:"motors"`
	}{t.Axes[i], t.Motors[i]})
}

func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if s.Stats == nil {
		http.Error(w, "no stats", http.StatusNotFound)
		return
	}
	writeJSON(w, s.Stats())
}

// CommandHandler dispatches a JSON command, or a JSON array of commands
// sharing one envelope, and replies with the received answers.
func (s *Server) CommandHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "wrong password", http.StatusUnauthorized)
		return
	}
	var cmds []Command
	dec := json.NewDecoder(r.Body)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &cmds); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmds = []Command{cmd}
	}
	results, err := s.dispatch(cmds...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, results)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.Password == "" {
		return true
	}
	_, pass, ok := r.BasicAuth()
	return ok && pass == s.Password
}

func (s *Server) dispatch(cmds ...Command) ([]Result, error) {
	s.mu.Lock()
	env := protocol.Envelope{}
	for _, c := range cmds {
		s.counter++
		sub := protocol.Subsystem(c.Subsystem)
		switch c.Command {
		case "mode":
			env.Commands = append(env.Commands, protocol.ModeCommand{Subsystem: sub, Mode: c.ID, Counter: s.counter, Param1: c.Param1, Param2: c.Param2})
		case "parameter":
			env.Commands = append(env.Commands, protocol.ParameterCommand{Subsystem: sub, Parameter: c.ID, Counter: s.counter, Param1: c.Param1, Param2: c.Param2})
		default:
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %q", protocol.ErrUnknownCommand, c.Command)
		}
	}
	env.Counter = s.counter
	s.mu.Unlock()

	results, err := s.sys.Dispatch(env)
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = Result{Counter: r.Counter, ID: r.ID, Answer: r.Answer.String(), Code: uint16(r.Answer)}
	}
	return out, nil
}

// StatusSocketHandler pushes the decoded status after every snapshot and
// accepts JSON commands from the client.
func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unauthenticated clients may watch but not command.
	authorized := s.authorized(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	updates := make(chan struct{}, 1)
	unsubscribe := s.sys.Subscribe(func([]byte) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	// Read and process incoming messages
	go func() {
		defer cancel()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if !authorized {
				log.Printf("monitor command from %v: wrong password", r.RemoteAddr)
				continue
			}
			if _, err := s.dispatch(msg); err != nil {
				log.Printf("monitor command %+v: %v", msg, err)
			}
		}
	}()

	send := func(t *acu.Telegram) error {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	for {
		if err := send(s.sys.Status()); err != nil {
			log.Print(err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-updates:
		}
	}
}
