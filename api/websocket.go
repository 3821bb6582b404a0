// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/blinklabs-io/auctioneer/fanout"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	wsReadLimit = 4096
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.config.AllowedOrigins) == 0 {
				return true
			}
			return slices.Contains(
				s.config.AllowedOrigins,
				r.Header.Get("Origin"),
			)
		},
	}
}

// handleWebSocket streams one auction to a client. The first frame is the
// current snapshot, followed by any replayed messages after since_seq and
// then live messages. A client that falls behind gets a resubscribe frame
// and the connection is closed; it should reconnect with since_seq set to
// the last server_seq it processed
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	var sinceSeq *uint64
	if r.URL.Query().Has("since_seq") {
		tmp, err := queryUint(r, "since_seq")
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		sinceSeq = &tmp
	}
	sub, err := s.fanout.Subscribe(
		r.Context(),
		auctionID,
		sinceSeq,
		fanout.WithRemoteAddr(r.RemoteAddr),
	)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer sub.Close()
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	if s.metrics != nil {
		s.metrics.wsConnection.Inc()
		defer s.metrics.wsConnection.Dec()
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.readPump(conn, cancel)
	go s.pingLoop(ctx, conn)
	logger := s.logger.With(
		"auction_id", auctionID,
		"remote_addr", r.RemoteAddr,
	)
	logger.Debug("websocket subscriber connected")
	if err := s.writeFrame(conn, SnapshotFrame{
		Type:      frameSnapshot,
		ServerSeq: sub.Snapshot.LastSeq,
		Auction:   auctionResponse(sub.Snapshot),
		Replayed:  len(sub.Replay),
	}); err != nil {
		return
	}
	for _, msg := range sub.Replay {
		if err := s.writeFrame(conn, msg); err != nil {
			return
		}
	}
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, fanout.ErrResubscribe):
				logger.Debug(
					"websocket subscriber fell behind",
					"last_seq", sub.LastDeliveredSeq(),
				)
				_ = s.writeFrame(conn, ResubscribeFrame{
					Type:     frameResubscribe,
					SinceSeq: sub.LastDeliveredSeq(),
				})
				s.closeConn(conn, websocket.CloseTryAgainLater, "resubscribe")
			case errors.Is(err, fanout.ErrSubscriptionClosed):
				s.closeConn(conn, websocket.CloseGoingAway, "shutting down")
			}
			return
		}
		if err := s.writeFrame(conn, msg); err != nil {
			return
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return conn.WriteJSON(v)
}

func (s *Server) closeConn(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(defaultWriteTimeout),
	)
}

// readPump discards client frames and cancels the stream when the client
// goes away
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(wsReadLimit)
	readTimeout := 2 * s.config.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				s.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := conn.WriteControl(
				websocket.PingMessage,
				nil,
				time.Now().Add(defaultWriteTimeout),
			)
			if err != nil {
				return
			}
		}
	}
}
