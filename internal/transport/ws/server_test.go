package ws

import (
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voidstorage.ai/internal/protocol"
	"voidstorage.ai/internal/sim/adapter"
	"voidstorage.ai/internal/sim/anchor"
	"voidstorage.ai/internal/sim/dispatch"
	"voidstorage.ai/internal/sim/memworld"
	"voidstorage.ai/internal/sim/network"
	"voidstorage.ai/internal/sim/orphan"
	"voidstorage.ai/internal/sim/position"
	"voidstorage.ai/internal/sim/storage"
	"voidstorage.ai/internal/sim/transfer"
)

type harness struct {
	ts    *httptest.Server
	svc   *network.Service
	srv   *Server
	world *memworld.World
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	w := memworld.NewWorld("overworld")
	svc := network.NewService(network.Config{World: w.ID(), Logger: logger},
		anchor.NewRegistry(), transfer.NewRegistry(), storage.NewRegistry(), orphan.NewRegistry(logger))

	// Each dispatch sees a clock one second later, clearing the caller cooldown.
	var clock atomic.Int64
	reg := dispatch.NewRegistry(dispatch.Config{
		Logger: logger,
		Now:    func() time.Time { return time.UnixMilli(clock.Add(1000)) },
	})
	for _, h := range svc.Handlers() {
		reg.Register(h)
	}
	srv := NewServer(Config{
		Dispatcher: reg,
		Network:    svc,
		Worlds: func(id string) (adapter.World, bool) {
			if id == w.ID() {
				return w, true
			}
			return nil, false
		},
		DefaultWorld: w.ID(),
		Logger:       logger,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{ts: ts, svc: svc, srv: srv, world: w}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	b, _ := json.Marshal(v)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// read decodes the next message into out and returns its type.
func read(t *testing.T, conn *websocket.Conn, out any) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(msg, out); err != nil {
			t.Fatalf("unmarshal %s: %v", base.Type, err)
		}
	}
	return base.Type
}

func hello(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	write(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, PlayerName: "tester"})
	var welcome protocol.WelcomeMsg
	if typ := read(t, conn, &welcome); typ != protocol.TypeWelcome {
		t.Fatalf("type=%s want=%s", typ, protocol.TypeWelcome)
	}
	return welcome
}

func dispatchMsg(reqID string, handler string) protocol.DispatchMsg {
	return protocol.DispatchMsg{Type: protocol.TypeDispatch, ProtocolVersion: protocol.Version, ReqID: reqID, HandlerID: handler}
}

func expectResult(t *testing.T, conn *websocket.Conn, reqID, kind string) {
	t.Helper()
	var res protocol.ResultMsg
	if typ := read(t, conn, &res); typ != protocol.TypeResult {
		t.Fatalf("type=%s want=%s", typ, protocol.TypeResult)
	}
	if res.ReqID != reqID || res.Kind != kind {
		t.Fatalf("result=%+v want req=%s kind=%s", res, reqID, kind)
	}
}

func TestServer_DispatchRoundTrip(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	welcome := hello(t, conn)
	if welcome.WorldID != "overworld" || len(welcome.Handlers) != 8 || welcome.PlayerID == "" {
		t.Fatalf("welcome=%+v", welcome)
	}

	place := dispatchMsg("r1", network.AnchorHandlerID.String())
	place.Target = &[3]int{0, 64, 0}
	write(t, conn, place)
	expectResult(t, conn, "r1", "success")

	dep := dispatchMsg("r2", network.DepositHandlerID.String())
	dep.Pos = &[3]int{2, 65, 2}
	dep.Hand = &protocol.HandRef{ItemID: "ore"}
	dep.Args = protocol.DispatchArgs{ItemID: "ore"}
	write(t, conn, dep)
	expectResult(t, conn, "r2", "success")

	access := dispatchMsg("r3", network.AccessHandlerID.String())
	access.Pos = &[3]int{2, 65, 2}
	write(t, conn, access)
	var view protocol.StorageMsg
	if typ := read(t, conn, &view); typ != protocol.TypeStorage {
		t.Fatalf("type=%s want=%s", typ, protocol.TypeStorage)
	}
	if view.TotalItems != 1 || len(view.Items) != 1 || view.Items[0].ItemID != "ore" {
		t.Fatalf("view=%+v", view)
	}
	expectResult(t, conn, "r3", "success")

	a, ok := h.svc.Anchors().At(position.Of(0, 65, 0))
	if !ok {
		t.Fatalf("anchor missing")
	}
	if l, _ := h.svc.Ledgers().Get(a.ID); l.Quantity("ore") != 1 {
		t.Fatalf("ledger ore=%d want=1", l.Quantity("ore"))
	}
}

func TestServer_UnknownHandler(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	hello(t, conn)

	write(t, conn, dispatchMsg("r1", "00000000-0000-0000-0009-000000000000"))
	var e protocol.ErrorMsg
	if typ := read(t, conn, &e); typ != protocol.TypeError || e.Code != protocol.ErrUnknownHandler || e.ReqID != "r1" {
		t.Fatalf("type=%s err=%+v", typ, e)
	}
}

func TestServer_RejectsBadHello(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	write(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1", PlayerName: "old"})
	var e protocol.ErrorMsg
	if typ := read(t, conn, &e); typ != protocol.TypeError || e.Code != protocol.ErrProtoVersion {
		t.Fatalf("type=%s err=%+v", typ, e)
	}

	conn = h.dial(t)
	write(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, PlayerName: "lost", WorldID: "nether"})
	if typ := read(t, conn, &e); typ != protocol.TypeError || e.Code != protocol.ErrWorldNotFound {
		t.Fatalf("type=%s err=%+v", typ, e)
	}
}

func TestServer_DuplicatePlayerRejected(t *testing.T) {
	h := newHarness(t)
	first := h.dial(t)
	welcome := hello(t, first)

	second := h.dial(t)
	write(t, second, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, PlayerName: "dup", PlayerID: welcome.PlayerID})
	var e protocol.ErrorMsg
	if typ := read(t, second, &e); typ != protocol.TypeError || e.Code != protocol.ErrBadRequest {
		t.Fatalf("type=%s err=%+v", typ, e)
	}
	if n := h.srv.Sessions(); n != 1 {
		t.Fatalf("sessions=%d want=1", n)
	}
}

func TestStorageView(t *testing.T) {
	l := storage.New(5000)
	_, _ = l.Deposit("ore", 1200)
	_, _ = l.Deposit("gem", 3)
	v := StorageView(uuid.New(), l)
	if v.Remaining != 3797 || v.UniqueItems != 2 || v.Items[0].ItemID != "ore" || v.Items[0].Display != "1,200" {
		t.Fatalf("view=%+v", v)
	}
}
