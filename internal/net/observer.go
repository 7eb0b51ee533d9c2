package net

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xyzzy121/Unicopia/internal/hub"
	"github.com/xyzzy121/Unicopia/internal/net/proto"
	"github.com/xyzzy121/Unicopia/internal/net/ws"
	"github.com/xyzzy121/Unicopia/internal/telemetry"
)

const defaultRedialDelay = time.Second

type ObserverConfig struct {
	// URL is the authority's /replicate endpoint.
	URL          string
	Logger       telemetry.Logger
	Dialer       *websocket.Dialer
	RedialDelay  time.Duration
	WriteTimeout time.Duration
}

// Observer keeps an observer hub linked to its authority, redialing after
// the link drops. Each new link opens with a full resync request so the
// observer relearns every actor and slot.
type Observer struct {
	hub    *hub.Hub
	cfg    ObserverConfig
	logger telemetry.Logger
}

func NewObserver(h *hub.Hub, cfg ObserverConfig) *Observer {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.RedialDelay <= 0 {
		cfg.RedialDelay = defaultRedialDelay
	}
	return &Observer{hub: h, cfg: cfg, logger: logger}
}

// Run links until ctx ends.
func (o *Observer) Run(ctx context.Context) error {
	resync, err := proto.EncodeResyncRequest(proto.ResyncRequest{})
	if err != nil {
		return err
	}
	for {
		if err := o.link(ctx, resync); err != nil {
			o.logger.Printf("[observer] link to %s lost: %v", o.cfg.URL, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(o.cfg.RedialDelay):
		}
	}
}

func (o *Observer) link(ctx context.Context, resync []byte) error {
	conn, resp, err := o.cfg.Dialer.DialContext(ctx, o.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}
	o.logger.Printf("[observer] linked to %s", o.cfg.URL)
	return ws.ServePeer(ctx, o.hub, conn, o.cfg.WriteTimeout, resync)
}
