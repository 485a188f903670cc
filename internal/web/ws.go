package web

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/smart-watering/internal/broadcast"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = wsPongWait * 9 / 10
	wsReadLimit    = 4096
)

// handleWS upgrades the connection and streams broadcaster messages to it
// until either side goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	obs := s.bcast.Subscribe()
	defer s.bcast.Unsubscribe(obs)

	gone := make(chan struct{})
	go s.readClient(conn, obs, gone)

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case m, ok := <-obs.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(formatEvent(m)); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// readClient answers get_status and get_sensors requests and closes gone
// when the peer disconnects. Unrecognized messages are ignored.
func (s *Server) readClient(conn *websocket.Conn, obs *broadcast.Observer, gone chan<- struct{}) {
	defer close(gone)

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		switch msg.Type {
		case "get_status":
			s.bcast.Resend(obs, broadcast.EventStatus)
		case "get_sensors":
			s.bcast.Resend(obs, broadcast.EventSensors)
		}
	}
}
