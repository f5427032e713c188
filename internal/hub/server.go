package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"hivemind/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// All agent processes are trusted local peers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the hub over websocket at /ws.
type Server struct {
	hub  *Hub
	addr string

	srv *http.Server
	ln  net.Listener
	eg  *errgroup.Group
}

// NewServer wraps a hub with a websocket listener on addr.
func NewServer(h *Hub, addr string) *Server {
	return &Server{hub: h, addr: addr}
}

// Start begins listening and starts the hub loop. Non-blocking.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("hub listen on %s: %w", s.addr, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.srv = &http.Server{Handler: mux}

	s.hub.Start()

	s.eg = &errgroup.Group{}
	s.eg.Go(func() error {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	logging.Hub("listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound listen address (useful with ":0" in tests).
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting connections, closes the listener, and stops the
// hub loop.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}
	if s.eg != nil {
		if werr := s.eg.Wait(); err == nil {
			err = werr
		}
	}
	s.hub.Stop()
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Get(logging.CategoryHub).Warn("upgrade failed: %v", err)
		return
	}

	link := newWSLink(conn)
	sess := s.hub.Join(link)

	go link.writeLoop()
	go s.readLoop(sess, link)
}

// readLoop decodes envelopes off one connection and feeds them to the hub
// loop. Any read error, clean close included, ends in Leave.
func (s *Server) readLoop(sess *session, link *wsLink) {
	defer func() {
		s.hub.Leave(sess)
		link.Close()
	}()

	link.conn.SetReadLimit(maxMessageSize)
	link.conn.SetReadDeadline(time.Now().Add(pongWait))
	link.conn.SetPongHandler(func(string) error {
		link.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := link.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logging.Get(logging.CategoryHub).Debug("bad frame: %v", err)
			continue
		}
		s.hub.Deliver(sess, env)
	}
}

// wsLink adapts one websocket connection to the Link interface with a
// buffered single-writer queue.
type wsLink struct {
	conn    *websocket.Conn
	sendCh  chan Envelope
	closeCh chan struct{}
}

func newWSLink(conn *websocket.Conn) *wsLink {
	return &wsLink{
		conn:    conn,
		sendCh:  make(chan Envelope, sendQueueSize),
		closeCh: make(chan struct{}),
	}
}

// Send implements Link. A full queue drops the frame rather than blocking the
// hub loop.
func (l *wsLink) Send(env Envelope) error {
	select {
	case l.sendCh <- env:
		return nil
	case <-l.closeCh:
		return fmt.Errorf("connection closed")
	default:
		return fmt.Errorf("send queue full")
	}
}

// Close implements Link.
func (l *wsLink) Close() error {
	select {
	case <-l.closeCh:
		return nil
	default:
		close(l.closeCh)
	}
	return l.conn.Close()
}

func (l *wsLink) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-l.sendCh:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteJSON(env); err != nil {
				l.Close()
				return
			}
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.Close()
				return
			}
		case <-l.closeCh:
			return
		}
	}
}
