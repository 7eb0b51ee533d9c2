package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xyzzy121/Unicopia/internal/hub"
)

const defaultWriteTimeout = 5 * time.Second

// session owns the write side of one websocket connection. Hub traffic is
// pumped from the subscriber while the read loop writes direct replies;
// writeMu keeps gorilla's single-writer rule.
type session struct {
	conn    *websocket.Conn
	sub     *hub.Subscriber
	timeout time.Duration

	writeMu sync.Mutex
	stopped chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func newSession(conn *websocket.Conn, sub *hub.Subscriber, timeout time.Duration) *session {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &session{conn: conn, sub: sub, timeout: timeout, stopped: make(chan struct{})}
}

func (s *session) start() {
	s.wg.Add(1)
	go s.pump()
}

func (s *session) write(binary bool, data []byte) error {
	messageType := websocket.TextMessage
	if binary {
		messageType = websocket.BinaryMessage
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	return s.conn.WriteMessage(messageType, data)
}

// pump forwards subscriber messages until the session stops. When the hub
// drops the subscriber the connection is closed so the read loop ends too.
func (s *session) pump() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopped:
			return
		case <-s.sub.Done():
			s.closeWith(websocket.CloseNormalClosure, "session replaced")
			return
		case msg := <-s.sub.Messages():
			if err := s.write(msg.Binary, msg.Data); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}

func (s *session) closeWith(code int, text string) {
	s.writeMu.Lock()
	s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(s.timeout))
	s.writeMu.Unlock()
	s.conn.Close()
}

// stop ends the pump and waits for it.
func (s *session) stop() {
	s.once.Do(func() { close(s.stopped) })
	s.wg.Wait()
	s.conn.Close()
}
