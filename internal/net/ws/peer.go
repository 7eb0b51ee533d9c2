package ws

import (
	"context"
	"log"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xyzzy121/Unicopia/internal/hub"
	"github.com/xyzzy121/Unicopia/internal/telemetry"
)

// PeerHandler serves /replicate: a peer hub receives every replication
// frame this hub broadcasts, and its frames (resync requests from an
// observer) are delivered here.
type PeerHandler struct {
	hub      *hub.Hub
	logger   telemetry.Logger
	timeout  time.Duration
	upgrader websocket.Upgrader
}

func NewPeerHandler(h *hub.Hub, cfg HandlerConfig) *PeerHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	return &PeerHandler{
		hub:     h,
		logger:  logger,
		timeout: cfg.WriteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
	}
}

func (p *PeerHandler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Printf("peer upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	if err := ServePeer(r.Context(), p.hub, conn, p.timeout); err != nil {
		p.logger.Printf("peer %s disconnected: %v", r.RemoteAddr, err)
	}
}

// ServePeer links h to the hub on the other end of conn until either side
// goes away or ctx ends. Outbound frames come from a peer subscription;
// inbound binary frames are delivered to h. Greeting frames are written
// once the subscription is in place. The returned error is nil when ctx
// ended the link.
func ServePeer(ctx context.Context, h *hub.Hub, conn *websocket.Conn, timeout time.Duration, greeting ...[]byte) error {
	sub, err := h.Subscribe("")
	if err != nil {
		conn.Close()
		return err
	}
	s := newSession(conn, sub, timeout)
	s.start()
	defer h.Unsubscribe(sub)
	defer s.stop()

	for _, frame := range greeting {
		if err := s.write(true, frame); err != nil {
			return err
		}
	}

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if messageType == websocket.BinaryMessage {
			h.Deliver(data)
		}
	}
}
