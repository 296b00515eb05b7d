package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wampcore/broker/wamp"
	"github.com/wampcore/broker/wamp/serialize"
)

var (
	errWSClosed      = errors.New("websocket peer closed")
	errWSSendTimeout = errors.New("websocket peer send timed out")
)

const (
	jsonSubprotocol = "wamp.2.json"
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	writeWait       = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	Subprotocols:    []string{jsonSubprotocol},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsPeer adapts one *websocket.Conn to wamp.Peer. Reads and writes each run
// on their own goroutine (a read pump and a write pump), matching the usual
// gorilla/websocket connection-handling pattern: a single goroutine must own
// the connection for writes, and another drains reads so pings/pongs keep
// flowing even while the router is busy elsewhere.
type wsPeer struct {
	conn *websocket.Conn
	ser  serialize.Serializer

	recv chan wamp.Message
	send chan wamp.Message

	closeOnce sync.Once
	closed    chan struct{}
}

// Handler returns an http.HandlerFunc that upgrades incoming requests to
// WebSocket connections and hands each resulting wamp.Peer to attach. A
// request that does not offer the wamp.2.json subprotocol is rejected with
// HTTP 400. The handler returns when attach returns (router.Attach returns
// once the session is admitted); the connection stays open after that,
// served by the peer's read and write pumps, until either side closes it.
func Handler(attach func(wamp.Peer)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offered := false
		for _, proto := range websocket.Subprotocols(r) {
			if proto == jsonSubprotocol {
				offered = true
				break
			}
		}
		if !offered {
			http.Error(w, "subprotocol "+jsonSubprotocol+" required", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		peer := newWSPeer(conn)
		attach(peer)
	}
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	p := &wsPeer{
		conn:   conn,
		ser:    serialize.JSONSerializer{},
		recv:   make(chan wamp.Message, 16),
		send:   make(chan wamp.Message, 16),
		closed: make(chan struct{}),
	}
	go p.readPump()
	go p.writePump()
	return p
}

func (p *wsPeer) Recv() <-chan wamp.Message { return p.recv }

func (p *wsPeer) Send(msg wamp.Message) error {
	select {
	case p.send <- msg:
		return nil
	case <-p.closed:
		return errWSClosed
	}
}

func (p *wsPeer) TrySend(msg wamp.Message) error {
	select {
	case p.send <- msg:
		return nil
	case <-p.closed:
		return errWSClosed
	default:
	}
	select {
	case p.send <- msg:
		return nil
	case <-p.closed:
		return errWSClosed
	case <-time.After(trySendTimeout):
		return errWSSendTimeout
	}
}

func (p *wsPeer) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.conn.Close()
	})
}

// readPump decodes inbound frames and publishes them on recv until the
// connection errors out or Close is called. A binary frame or a frame that
// does not decode is a protocol error and closes the connection.
func (p *wsPeer) readPump() {
	defer close(p.recv)
	defer p.Close()

	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		frameType, data, err := p.conn.ReadMessage()
		if err != nil || frameType != websocket.TextMessage {
			return
		}
		msg, err := p.ser.Deserialize(data)
		if err != nil {
			return
		}
		select {
		case p.recv <- msg:
		case <-p.closed:
			return
		}
	}
}

// writePump is the sole goroutine allowed to call conn.Write*, per
// gorilla/websocket's concurrency rules, and also owns sending the
// keep-alive pings.
func (p *wsPeer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer p.Close()

	for {
		select {
		case msg, ok := <-p.send:
			if !ok {
				return
			}
			data, err := p.ser.Serialize(msg)
			if err != nil {
				continue
			}
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.closed:
			p.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
