// Package ws serves websocket sessions: player sessions that stage ability
// input on the hub, and replication peers that exchange binary frames.
package ws

import (
	"log"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xyzzy121/Unicopia/internal/coordinator"
	"github.com/xyzzy121/Unicopia/internal/hub"
	"github.com/xyzzy121/Unicopia/internal/net/intake"
	"github.com/xyzzy121/Unicopia/internal/net/proto"
	"github.com/xyzzy121/Unicopia/internal/sim"
	"github.com/xyzzy121/Unicopia/internal/telemetry"
	"github.com/xyzzy121/Unicopia/logging"
)

type HandlerConfig struct {
	Logger       telemetry.Logger
	Clock        logging.Clock
	WriteTimeout time.Duration
}

// Handler serves player sessions on /ws?id=<actor>.
type Handler struct {
	hub      *hub.Hub
	logger   telemetry.Logger
	clock    logging.Clock
	timeout  time.Duration
	upgrader websocket.Upgrader
}

func NewHandler(h *hub.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	clock := cfg.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	return &Handler{
		hub:     h,
		logger:  logger,
		clock:   clock,
		timeout: cfg.WriteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	actorID := r.URL.Query().Get("id")
	if actorID == "" {
		nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", actorID, err)
		return
	}
	h.Serve(actorID, conn)
}

// Serve runs a player session until the connection drops or the hub
// replaces it. Losing the current session removes the actor.
func (h *Handler) Serve(actorID string, conn *websocket.Conn) {
	if h == nil || h.hub == nil || conn == nil {
		return
	}

	sub, err := h.hub.Subscribe(actorID)
	if err != nil {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown actor")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	s := newSession(conn, sub, h.timeout)
	s.start()
	defer func() {
		s.stop()
		if h.hub.Unsubscribe(sub) && h.hub.Role() == coordinator.RoleAuthority {
			h.hub.Leave(actorID)
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", actorID, err)
			continue
		}

		if msg.Type == proto.TypeHeartbeat {
			if !h.heartbeat(s, actorID, msg) {
				return
			}
			continue
		}
		if !h.command(s, actorID, msg) {
			return
		}
	}
}

func (h *Handler) heartbeat(s *session, actorID string, msg proto.ClientMessage) bool {
	now := h.clock.Now()
	rtt, ok := h.hub.Heartbeat(actorID, now, msg.SentAt)
	if !ok {
		return true
	}
	data, err := proto.EncodeHeartbeat(proto.Heartbeat{
		ServerTime: now.UnixMilli(),
		ClientTime: msg.SentAt,
		RTTMillis:  rtt.Milliseconds(),
	})
	if err != nil {
		h.logger.Printf("failed to marshal heartbeat ack for %s: %v", actorID, err)
		return true
	}
	return s.write(false, data) == nil
}

// command stages one ability input and answers sequenced commands with an
// ack or reject. Sequences at or below the last ack are re-acked without
// staging again.
func (h *Handler) command(s *session, actorID string, msg proto.ClientMessage) bool {
	seq := uint64(0)
	if msg.CommandSeq != nil {
		seq = *msg.CommandSeq
	}

	if seq > 0 {
		if last := s.sub.LastCommandSeq(); last > 0 && seq <= last {
			data, err := proto.EncodeCommandAck(proto.CommandAck{Seq: seq})
			return h.reply(s, actorID, data, err)
		}
	}

	cmd, ok, reason := h.hub.Stage(actorID, msg)
	if !ok {
		switch reason {
		case intake.CommandRejectInvalidAction:
			h.logger.Printf("invalid %q command from %s", msg.Type, actorID)
		case intake.CommandRejectUnknownActor:
			h.logger.Printf("command ignored for unknown actor %s", actorID)
		}
	}
	if seq == 0 {
		return true
	}
	if !ok {
		retry := reason == sim.CommandRejectQueueLimit || reason == sim.CommandRejectQueueFull
		data, err := proto.EncodeCommandReject(proto.CommandReject{Seq: seq, Reason: reason, Retry: retry})
		return h.reply(s, actorID, data, err)
	}
	data, err := proto.EncodeCommandAck(proto.CommandAck{Seq: seq, Tick: cmd.OriginTick})
	if !h.reply(s, actorID, data, err) {
		return false
	}
	s.sub.StoreLastCommandSeq(seq)
	return true
}

func (h *Handler) reply(s *session, actorID string, data []byte, err error) bool {
	if err != nil {
		h.logger.Printf("failed to marshal response for %s: %v", actorID, err)
		return true
	}
	return s.write(false, data) == nil
}
