package api

import (
	"database/sql"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/parleychat/parley/internal/server"
)

// devSubprotocol names the subprotocol accepted without credentials so
// local tooling can probe the socket. Such connections are never
// registered and receive no events.
const devSubprotocol = "parley-devtools"

// rejectWs refuses a handshake before any upgrade happens.
func (s *ParleyApp) rejectWs(w http.ResponseWriter, errResp *ApiError) {
	s.stats.Incr("TotalHandshakeRejections")
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *ParleyApp) checkOrigin(r *http.Request) bool {
	// only allow connections from allowed origins
	origin := r.Header.Get("Origin")
	if origin == "" {
		// if no origin header, allow the request
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

func (s *ParleyApp) serveWs(w http.ResponseWriter, r *http.Request) {
	if slices.Contains(websocket.Subprotocols(r), devSubprotocol) {
		s.serveDevtools(w, r)
		return
	}

	token, err := requestToken(r)
	if err != nil {
		s.rejectWs(w, NewUnauthorizedError())
		return
	}

	userId, err := s.extractUserIdFromToken(token)
	if err != nil {
		s.log.Printf("failed to extract user id from token: %v", err)
		s.rejectWs(w, NewUnauthorizedError())
		return
	}

	// A uid asserted on the query string must match the token subject.
	if uid := r.URL.Query().Get("uid"); uid != "" {
		id, err := strconv.Atoi(uid)
		if err != nil || id != userId {
			s.rejectWs(w, NewUnauthorizedError())
			return
		}
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.rejectWs(w, NewNotFoundError())
		} else {
			s.rejectWs(w, NewInternalServerError(err))
		}
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(wireUser(user), conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}

// serveDevtools upgrades without credentials, echoes the subprotocol
// and discards every frame until the peer goes away.
func (s *ParleyApp) serveDevtools(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{devSubprotocol},
		CheckOrigin:  s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading devtools connection:", err)
		return
	}
	defer conn.Close()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
