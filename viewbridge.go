package enviz

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var bridgeUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// BridgeMessage is the JSON envelope the view bridge speaks in both
// directions. Outbound messages carry type "state"; inbound messages carry
// one of the proposal actions.
type BridgeMessage struct {
	// Type is "state" outbound; "hover", "select", "confirm", "discard" or
	// "clear" inbound.
	Type string `json:"type"`
	// State is the applied selection state on outbound messages.
	State *SelectionState `json:"state,omitempty"`
	// Targets are the proposed realization ids for "select".
	Targets []string `json:"targets,omitempty"`
	// Realization is the hovered realization for "hover", empty for none.
	Realization string `json:"realization,omitempty"`
	// Step is the hovered timestep for "hover"; NoStep for none.
	Step int `json:"step"`
	// Bypass applies a "select" immediately over an existing lock.
	Bypass bool `json:"bypass,omitempty"`
	// Error reports a rejected inbound message.
	Error string `json:"error,omitempty"`
}

// ViewBridge relays the selection coordinator's broadcasts to views in
// other processes over websocket and feeds their proposals back in. It is
// a transport for linked views, not a collaboration protocol: every client
// shares the one selection state.
//
// The bridge registers itself as a coordinator observer; inbound proposals
// are posted through the dispatch function so coordinator calls stay on
// the interaction goroutine.
type ViewBridge struct {
	cfg         BridgeConfig
	coordinator *SelectionCoordinator
	dispatch    DispatchFunc
	log         *slog.Logger

	mu      sync.Mutex
	clients map[*bridgeClient]struct{}
	handle  int
	closed  bool
}

type bridgeClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// NewViewBridge creates a bridge over the coordinator. dispatch posts
// inbound proposals to the interaction goroutine; nil runs them inline,
// which is only safe for single-client, single-goroutine setups such as
// tests.
func NewViewBridge(cfg BridgeConfig, sc *SelectionCoordinator, dispatch DispatchFunc) *ViewBridge {
	if dispatch == nil {
		dispatch = func(f func()) { f() }
	}
	vb := &ViewBridge{
		cfg:         cfg,
		coordinator: sc,
		dispatch:    dispatch,
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		clients:     make(map[*bridgeClient]struct{}),
	}
	vb.handle = sc.Register(ObserverFunc(vb.publish))
	return vb
}

// SetLogger replaces the bridge's logger. The default discards everything.
// Call before serving the handler.
func (vb *ViewBridge) SetLogger(log *slog.Logger) {
	if log != nil {
		vb.log = log
	}
}

// Close detaches the bridge from the coordinator and disconnects clients.
func (vb *ViewBridge) Close() {
	vb.mu.Lock()
	if vb.closed {
		vb.mu.Unlock()
		return
	}
	vb.closed = true
	clients := make([]*bridgeClient, 0, len(vb.clients))
	for c := range vb.clients {
		clients = append(clients, c)
	}
	vb.clients = make(map[*bridgeClient]struct{})
	vb.mu.Unlock()

	vb.coordinator.Unregister(vb.handle)
	for _, c := range clients {
		close(c.done)
	}
}

// ClientCount returns the number of attached view processes.
func (vb *ViewBridge) ClientCount() int {
	vb.mu.Lock()
	defer vb.mu.Unlock()
	return len(vb.clients)
}

// publish is the coordinator observer callback: fan the applied state out
// to every client. Slow clients are dropped rather than stalling the
// broadcast.
func (vb *ViewBridge) publish(state SelectionState) {
	payload, err := json.Marshal(BridgeMessage{Type: "state", State: &state, Step: state.HoveredStep})
	if err != nil {
		return
	}
	vb.mu.Lock()
	defer vb.mu.Unlock()
	for c := range vb.clients {
		select {
		case c.send <- payload:
		default:
			vb.log.Warn("dropping slow view client", "remote", c.conn.RemoteAddr())
			delete(vb.clients, c)
			close(c.done)
		}
	}
}

// Handler returns the HTTP handler views connect to.
func (vb *ViewBridge) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vb.mu.Lock()
		if vb.closed || (vb.cfg.MaxClients > 0 && len(vb.clients) >= vb.cfg.MaxClients) {
			vb.mu.Unlock()
			http.Error(w, "view bridge not accepting clients", http.StatusServiceUnavailable)
			return
		}
		vb.mu.Unlock()

		conn, err := bridgeUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := &bridgeClient{
			conn: conn,
			send: make(chan []byte, vb.cfg.SendBuffer),
			done: make(chan struct{}),
		}
		vb.mu.Lock()
		vb.clients[client] = struct{}{}
		vb.mu.Unlock()
		vb.log.Debug("view client attached", "remote", conn.RemoteAddr())

		// Late joiners need the current state to render from.
		if initial, err := json.Marshal(BridgeMessage{
			Type:  "state",
			State: ptrState(vb.coordinator.State()),
		}); err == nil {
			client.send <- initial
		}

		go vb.writeLoop(client)
		vb.readLoop(client)
	}
}

func (vb *ViewBridge) writeLoop(c *bridgeClient) {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if vb.cfg.WriteTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(vb.cfg.WriteTimeout))
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

func (vb *ViewBridge) readLoop(c *bridgeClient) {
	defer vb.detach(c)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg BridgeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			vb.sendError(c, "invalid message format")
			continue
		}
		if !vb.apply(msg) {
			vb.sendError(c, "unknown message type: "+msg.Type)
		}
	}
}

// apply translates an inbound message into a coordinator call on the
// interaction goroutine.
func (vb *ViewBridge) apply(msg BridgeMessage) bool {
	sc := vb.coordinator
	switch msg.Type {
	case "hover":
		vb.dispatch(func() { sc.ProposeHover(msg.Realization, msg.Step) })
	case "select":
		vb.dispatch(func() { sc.ProposeSelection(msg.Targets, msg.Bypass) })
	case "confirm":
		vb.dispatch(sc.Confirm)
	case "discard":
		vb.dispatch(sc.Discard)
	case "clear":
		vb.dispatch(sc.Clear)
	default:
		return false
	}
	return true
}

func (vb *ViewBridge) detach(c *bridgeClient) {
	vb.mu.Lock()
	if _, ok := vb.clients[c]; ok {
		delete(vb.clients, c)
		close(c.done)
		vb.log.Debug("view client detached", "remote", c.conn.RemoteAddr())
	}
	vb.mu.Unlock()
	_ = c.conn.Close()
}

func (vb *ViewBridge) sendError(c *bridgeClient, text string) {
	payload, err := json.Marshal(BridgeMessage{Type: "error", Error: text, Step: NoStep})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func ptrState(s SelectionState) *SelectionState {
	return &s
}
