package api

import (
	"database/sql"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/geochat/internal/auth"
	"github.com/npezzotti/geochat/internal/server"
)

const closeWait = time.Second

func (s *GoChatApp) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
}

// serveWs authenticates the handshake and hands the socket to the chat
// server. An unauthenticated handshake is still upgraded so the client can
// read the error event before the socket is closed.
func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, err := s.tokens.Verify(auth.TokenFromRequest(r))
	if err != nil {
		s.log.Printf("ws: reject handshake: %v", err)
		s.rejectWs(w, r)
		return
	}

	account, err := s.db.GetPublicUser(r.Context(), userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.log.Printf("ws: unknown user %q", userId)
			s.rejectWs(w, r)
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(account.Public(), conn, s.cs, s.log)
	if err := s.cs.RegisterClient(client); err != nil {
		s.log.Printf("ws: %v", err)
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}

func (s *GoChatApp) rejectWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(closeWait))
	if err := conn.WriteJSON(server.ErrorMessage(server.ErrAuthenticationRequired)); err != nil {
		return
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"))
}
