package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chainmonitor/internal/hub"
	"chainmonitor/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub, err := s.source.Subscribe()
	if err != nil {
		s.logger.Warn("websocket subscribe rejected", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	s.logger.Info("websocket connected",
		zap.String("subscriber", sub.ID),
		zap.String("remote_addr", r.RemoteAddr))

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	initial := model.Message{Type: model.MessageBlockchainStats, Data: s.source.GetStats()}
	if err := conn.WriteJSON(initial); err != nil {
		s.source.Unsubscribe(sub.ID)
		conn.Close()
		return
	}

	go s.readPump(conn, sub.ID)
	s.writePump(conn, sub)
}

// readPump only consumes control frames; any read error ends the subscription.
func (s *Server) readPump(conn *websocket.Conn, id string) {
	defer s.source.Unsubscribe(id)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", zap.String("subscriber", id), zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub *hub.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.source.Unsubscribe(sub.ID)
		conn.Close()
		s.logger.Info("websocket disconnected", zap.String("subscriber", sub.ID))
	}()

	for {
		select {
		case msg, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
