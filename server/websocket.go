package server

import (
	"context"
	"net/http"
)

// handleWebSocket upgrades HTTP connections to WebSocket connections
// and streams tag reads and connection status to the consumer.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade error: %v", err)
		return
	}

	s.logger.Printf("consumer connected from %s", r.RemoteAddr)

	s.clientsMux.Lock()
	s.clients[conn] = true
	s.clientsMux.Unlock()

	// Seed the consumer with the current state so it does not have to
	// wait for the next transition.
	conn.WriteJSON(&WebsocketMessage{
		Type:    WSMessageTypeConnectionStatus,
		Payload: s.config.Conn.Status(),
	})
	if latest := s.config.Conn.LatestRead(); latest != nil {
		conn.WriteJSON(&WebsocketMessage{
			Type:    WSMessageTypeTagRead,
			Payload: latest,
		})
	}

	// Consumers only listen; the read loop exists to notice the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.clientsMux.Lock()
	delete(s.clients, conn)
	s.clientsMux.Unlock()
	conn.Close()
	s.logger.Printf("consumer disconnected, %s", r.RemoteAddr)
}

// broadcastLoop fans accepted reads and status transitions out to all
// connected consumers until ctx is cancelled.
func (s *Server) broadcastLoop(ctx context.Context) {
	reads := s.config.Conn.ReadEvents()
	statuses := s.config.Conn.StatusUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case r := <-reads:
			s.broadcast(&WebsocketMessage{Type: WSMessageTypeTagRead, Payload: r})
		case status := <-statuses:
			s.broadcast(&WebsocketMessage{Type: WSMessageTypeConnectionStatus, Payload: status})
		}
	}
}

// broadcast sends a message to all connected consumers
func (s *Server) broadcast(message *WebsocketMessage) {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()

	for client := range s.clients {
		if err := client.WriteJSON(message); err != nil {
			s.logger.Printf("WebSocket write error: %v", err)
			client.Close()
			delete(s.clients, client)
		}
	}
}
