package ropsrv

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ropgen/internal/arch"
	"ropgen/internal/gadgetdb"
	"ropgen/internal/ir"
)

func testDB(t *testing.T) *gadgetdb.DB {
	t.Helper()
	ar := arch.X86
	disasm := ir.DisasmX86(ar)
	db := gadgetdb.New()
	raws := []gadgetdb.RawGadget{
		{Addr: 0x2000, Raw: []byte{0xB8, 0x41, 0x41, 0x41, 0x41, 0xC3}}, // mov eax, 0x41414141; ret
	}
	if _, err := db.AnalyseRaw(raws, ar, disasm); err != nil {
		t.Fatalf("AnalyseRaw: %v", err)
	}
	return db
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/compile"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestHandleStreamsEventsToSuccess(t *testing.T) {
	s := New(testDB(t))
	s.TryBudget = 100
	httpSrv := httptest.NewServer(s)
	defer httpSrv.Close()

	conn := dial(t, httpSrv)
	defer conn.Close()

	req := Request{Program: []string{"eax = 0x41414141"}, Arch: "x86", System: "linux", ABI: "X86_CDECL"}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var phases []Phase
	var done bool
	for !done {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		phases = append(phases, ev.Phase)
		if ev.Phase == PhaseDone {
			if ev.Chain == "" {
				t.Fatalf("PhaseDone event missing the rendered chain")
			}
			done = true
		}
		if ev.Phase == PhaseError {
			t.Fatalf("unexpected error event: %s", ev.Message)
		}
	}
	if phases[0] != PhaseParse {
		t.Fatalf("first event phase = %v, want PhaseParse", phases[0])
	}
}

func TestHandleSendsErrorOnUnknownArch(t *testing.T) {
	s := New(testDB(t))
	httpSrv := httptest.NewServer(s)
	defer httpSrv.Close()

	conn := dial(t, httpSrv)
	defer conn.Close()

	req := Request{Program: []string{"eax = 1"}, Arch: "sparc64", System: "linux", ABI: "X86_CDECL"}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Phase != PhaseError {
		t.Fatalf("Phase = %v, want PhaseError for an unrecognized architecture", ev.Phase)
	}
}

func TestHandleSendsErrorOnBadProgramLine(t *testing.T) {
	s := New(testDB(t))
	httpSrv := httptest.NewServer(s)
	defer httpSrv.Close()

	conn := dial(t, httpSrv)
	defer conn.Close()

	req := Request{Program: []string{"this is not a valid instruction"}, Arch: "x86", System: "linux", ABI: "X86_CDECL"}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var ev Event
	var sawError bool
	for i := 0; i < 3; i++ {
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if ev.Phase == PhaseError {
			sawError = true
			break
		}
	}
	if !sawError {
		t.Fatalf("expected a PhaseError event for an unparsable program line")
	}
}

func TestParseProgramSkipsBlankLines(t *testing.T) {
	program, err := parseProgram(arch.X86, []string{"", "  ", "eax = 1"})
	if err != nil {
		t.Fatalf("parseProgram: %v", err)
	}
	if len(program) != 1 {
		t.Fatalf("parseProgram produced %d instructions, want 1 (blanks skipped)", len(program))
	}
}
