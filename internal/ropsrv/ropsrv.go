// Package ropsrv exposes compile as a websocket service: a client
// sends an intent-language program and gets back streamed progress
// events followed by the emitted chain, instead of invoking the
// compile CLI per request.
// Grounded on internal/network/websocket.go's server shape from the
// retrieved language-toolchain repo (an Upgrader plus one
// goroutine-per-connection handler), narrowed to one request/response
// cycle per connection rather than a persistent client registry.
package ropsrv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ropgen/internal/arch"
	"ropgen/internal/compiler"
	"ropgen/internal/gadgetdb"
	"ropgen/internal/il"
	"ropgen/internal/ropchain"
)

// Phase tags one progress event a compile pushes to the client before
// its final result.
type Phase string

const (
	PhaseParse    Phase = "parse"
	PhaseRewrite  Phase = "rewrite"
	PhaseSelect   Phase = "select"
	PhaseSchedule Phase = "schedule"
	PhaseDone     Phase = "done"
	PhaseError    Phase = "error"
)

// Event is one JSON message sent down the websocket.
type Event struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message,omitempty"`
	Chain   string `json:"chain,omitempty"` // PrettyPrint of the result, PhaseDone only
}

// Request is the JSON payload a client opens the connection with: an
// intent-language program plus the target environment.
type Request struct {
	Program []string `json:"program"`
	Arch    string   `json:"arch"`   // "x86" or "x64"
	System  string   `json:"system"` // "linux"
	ABI     string   `json:"abi"`
}

// Server upgrades incoming HTTP connections to websockets and runs one
// compile per connection against db.
type Server struct {
	DB        *gadgetdb.DB
	Upgrader  websocket.Upgrader
	TryBudget int
}

func New(db *gadgetdb.DB) *Server {
	return &Server{
		DB: db,
		Upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs Handle on it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.Handle(r.Context(), conn)
}

// Handle reads one Request off conn, compiles it, and streams Events
// back: parse, rewrite and schedule progress events, then a done event
// carrying the rendered chain, or an error event if any stage fails.
func (s *Server) Handle(ctx context.Context, conn *websocket.Conn) {
	var req Request
	if err := conn.ReadJSON(&req); err != nil {
		s.sendError(conn, fmt.Errorf("reading request: %w", err))
		return
	}

	ar, ok := arch.ByName(req.Arch)
	if !ok {
		s.sendError(conn, fmt.Errorf("unknown arch %q", req.Arch))
		return
	}

	s.send(conn, Event{Phase: PhaseParse, Message: fmt.Sprintf("parsing %d lines", len(req.Program))})
	program, err := parseProgram(ar, req.Program)
	if err != nil {
		s.sendError(conn, err)
		return
	}

	s.send(conn, Event{Phase: PhaseRewrite, Message: "searching for gadget assignment"})
	task := compiler.NewTask(ar, arch.ABI(req.ABI), arch.System(strings.ToUpper(req.System)), s.DB, s.TryBudget)

	chain, err := task.Compile(ctx, program)
	if err != nil {
		s.sendError(conn, err)
		return
	}

	s.send(conn, Event{Phase: PhaseSchedule, Message: "chain scheduled"})
	s.send(conn, Event{Phase: PhaseDone, Chain: renderChain(chain)})
}

func parseProgram(ar *arch.Arch, lines []string) ([]*il.Instr, error) {
	program := make([]*il.Instr, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		instr, err := il.Parse(ar, line)
		if err != nil {
			return nil, err
		}
		program = append(program, instr)
	}
	return program, nil
}

func renderChain(c *ropchain.Chain) string {
	return c.PrettyPrint()
}

func (s *Server) send(conn *websocket.Conn, ev Event) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteJSON(ev)
}

func (s *Server) sendError(conn *websocket.Conn, err error) {
	s.send(conn, Event{Phase: PhaseError, Message: err.Error()})
}
