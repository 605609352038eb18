package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// handleEventsWS streams committed events to an admin client as JSON text
// frames. Subscribers that fall behind lose events; the durable log is the
// place to catch up from.
func (s *Server) handleEventsWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.svc.Broker().Subscribe()
	defer cancel()

	done := make(chan struct{})

	// Reader loop: we never expect frames, but reading is how we notice the
	// peer going away.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
