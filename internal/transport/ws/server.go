// Package ws serves the storage network to remote players over websockets.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voidstorage.ai/internal/protocol"
	"voidstorage.ai/internal/sim/adapter"
	"voidstorage.ai/internal/sim/dispatch"
	"voidstorage.ai/internal/sim/memworld"
	"voidstorage.ai/internal/sim/network"
	"voidstorage.ai/internal/sim/position"
	"voidstorage.ai/internal/sim/storage"
)

// WorldLookup resolves the world a player joins.
type WorldLookup func(id string) (adapter.World, bool)

type Config struct {
	Dispatcher   *dispatch.Registry
	Network      *network.Service
	Worlds       WorldLookup
	DefaultWorld string
	Logger       *log.Logger
}

type Server struct {
	cfg Config
	log *log.Logger

	upgrader websocket.Upgrader

	sessions    sync.Map // player uuid.UUID -> *session
	nextSession atomic.Uint64
}

type session struct {
	id     string
	player uuid.UUID
	world  adapter.World
	inv    *memworld.Inventory
	out    chan []byte
}

// NewServer installs the server as the network's window opener.
func NewServer(cfg Config) *Server {
	if cfg.Dispatcher == nil || cfg.Network == nil || cfg.Worlds == nil {
		panic("ws: nil dependency")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	s := &Server{
		cfg: cfg,
		log: cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	cfg.Network.SetWindowOpener(s.openWindow)
	return s
}

// Sessions reports connected players.
func (s *Server) Sessions() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		defer s.sessions.CompareAndDelete(sess.player, sess)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				s.send(ctx, sess, protocol.NewError("", protocol.ErrProtoBadRequest, "malformed message"))
				continue
			}
			if base.Type != protocol.TypeDispatch {
				s.send(ctx, sess, protocol.NewError("", protocol.ErrProtoBadRequest, "unexpected "+base.Type))
				continue
			}
			var d protocol.DispatchMsg
			if err := json.Unmarshal(msg, &d); err != nil {
				s.send(ctx, sess, protocol.NewError("", protocol.ErrProtoBadRequest, err.Error()))
				continue
			}
			s.send(ctx, sess, s.dispatch(ctx, sess, d))
		}
	}
}

func (s *Server) dispatch(ctx context.Context, sess *session, d protocol.DispatchMsg) any {
	if d.ProtocolVersion != protocol.Version {
		return protocol.NewError(d.ReqID, protocol.ErrProtoVersion, "bad protocol_version")
	}
	id, err := uuid.Parse(d.HandlerID)
	if err != nil {
		return protocol.NewError(d.ReqID, protocol.ErrUnknownHandler, "bad handler_id")
	}
	if _, ok := s.cfg.Dispatcher.Get(id); !ok {
		return protocol.NewError(d.ReqID, protocol.ErrUnknownHandler, "no handler "+d.HandlerID)
	}
	if d.Hand != nil && d.Hand.ItemID != "" {
		sess.inv.Hold(d.Hand.ItemID, d.Hand.Tags)
	}
	ic := &memworld.Interaction{
		Caller: sess.player,
		Repeat: d.Repeat,
		In:     sess.world,
		Inv:    sess.inv,
		Payload: adapter.Args{
			ItemID:   d.Args.ItemID,
			Quantity: d.Args.Quantity,
			Query:    d.Args.Query,
			Action:   d.Args.Action,
		},
	}
	if d.Target != nil {
		p := position.FromArray(*d.Target)
		ic.Target = &p
	}
	if d.Pos != nil {
		p := position.FromArray(*d.Pos)
		ic.CallerPos = &p
	}
	res := s.cfg.Dispatcher.DispatchContext(ctx, id, ic)
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           d.ReqID,
		Kind:            res.Kind.String(),
		Reason:          res.Reason,
	}
}

// openWindow pushes a STORAGE view to the caller's session without blocking
// the dispatching goroutine.
func (s *Server) openWindow(caller, storageID uuid.UUID, ledger *storage.Storage) error {
	v, ok := s.sessions.Load(caller)
	if !ok {
		return errors.New("Caller not connected")
	}
	sess := v.(*session)
	b, err := json.Marshal(StorageView(storageID, ledger))
	if err != nil {
		return err
	}
	select {
	case sess.out <- b:
		return nil
	default:
		return errors.New("Session busy")
	}
}

// StorageView renders a ledger as a STORAGE message, largest stacks first.
func StorageView(storageID uuid.UUID, ledger *storage.Storage) protocol.StorageMsg {
	items := ledger.ItemsSorted()
	out := make([]protocol.StorageItem, 0, len(items))
	for _, it := range items {
		out = append(out, protocol.StorageItem{
			ItemID:   it.ItemID,
			Quantity: it.Quantity,
			Display:  humanize.Comma(it.Quantity),
		})
	}
	return protocol.StorageMsg{
		Type:            protocol.TypeStorage,
		ProtocolVersion: protocol.Version,
		StorageID:       storageID.String(),
		Capacity:        ledger.Capacity(),
		TotalItems:      ledger.TotalItems(),
		Remaining:       ledger.RemainingCapacity(),
		UniqueItems:     ledger.UniqueItemCount(),
		Items:           out,
	}
}

func (s *Server) send(ctx context.Context, sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Printf("WARN ws marshal for %s: %v", sess.player, err)
		return
	}
	select {
	case sess.out <- b:
	case <-ctx.Done():
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		reject(conn, protocol.ErrProtoBadRequest, err.Error())
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		reject(conn, protocol.ErrProtoVersion, "bad protocol_version")
		return nil
	}

	player := uuid.New()
	if hello.PlayerID != "" {
		id, err := uuid.Parse(hello.PlayerID)
		if err != nil || id == uuid.Nil {
			reject(conn, protocol.ErrProtoBadRequest, "bad player_id")
			return nil
		}
		player = id
	}
	worldID := hello.WorldID
	if worldID == "" {
		worldID = s.cfg.DefaultWorld
	}
	w, ok := s.cfg.Worlds(worldID)
	if !ok {
		reject(conn, protocol.ErrWorldNotFound, "no world "+worldID)
		return nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	sess := &session{
		id:     "S" + strconv.FormatUint(s.nextSession.Add(1), 10),
		player: player,
		world:  w,
		inv:    memworld.NewInventory(),
		out:    make(chan []byte, maxQ),
	}
	if _, loaded := s.sessions.LoadOrStore(player, sess); loaded {
		reject(conn, protocol.ErrBadRequest, fmt.Sprintf("player %s already connected", player))
		return nil
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		PlayerID:        player.String(),
		WorldID:         w.ID(),
		Handlers:        s.handlerRefs(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.sessions.CompareAndDelete(player, sess)
		return nil
	}
	s.log.Printf("session %s: %s (%s) joined %s", sess.id, hello.PlayerName, player, w.ID())
	return sess
}

func (s *Server) handlerRefs() []protocol.HandlerRef {
	hs := s.cfg.Dispatcher.All()
	out := make([]protocol.HandlerRef, 0, len(hs))
	for _, h := range hs {
		ref := protocol.HandlerRef{ID: h.ID().String(), Name: h.ID().String()}
		if n, ok := h.(interface{ Name() string }); ok {
			ref.Name = n.Name()
		}
		out = append(out, ref)
	}
	return out
}

func reject(conn *websocket.Conn, code, message string) {
	_ = writeJSON(conn, protocol.NewError("", code, message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
