// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// Message types for WebSocket communication
const (
	MsgTypeSnapshot = "SNAPSHOT"
	MsgTypeCommand  = "COMMAND"
	MsgTypeAck      = "ACK"
	MsgTypeRejected = "REJECTED"
	MsgTypeError    = "ERROR"
	MsgTypePing     = "PING"
	MsgTypePong     = "PONG"
)

// Message represents a WebSocket message
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Doc     string          `json:"doc,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Command *Command        `json:"command,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

type wsClient struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan Message

	capability Capability
}

// readPump pumps messages from the websocket connection to the hub.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				zap.S().Infof("websocket error: %v", err)
			}
			break
		}

		switch msg.Type {
		case MsgTypeCommand:
			if msg.Command == nil {
				c.sendJSON(Message{Type: MsgTypeError, ID: msg.ID, Reason: "missing command"})
				continue
			}
			req := HubRequest{Type: ReqTypeApply, Client: c, MsgID: msg.ID, Command: *msg.Command, Capability: c.capability}
			select {
			case c.hub.requests <- req:
			case <-c.hub.done:
				return
			}
		case MsgTypePing:
			c.sendJSON(Message{Type: MsgTypePong})
		default:
			zap.S().Debugf("Unknown message type: %s", msg.Type)
			c.sendJSON(Message{Type: MsgTypeError, ID: msg.ID, Reason: "Unknown message type"})
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendJSON queues msg without blocking. A client that cannot keep up loses
// messages and resyncs from the next snapshot.
func (c *wsClient) sendJSON(msg Message) {
	defer func() {
		// The hub may have closed send already.
		recover()
	}()
	select {
	case c.send <- msg:
	default:
	}
}

// ServeWS handles websocket requests from the peer. The capability of the
// connection is fixed when it is opened.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Infof("websocket upgrade: %v", err)
		return
	}

	client := &wsClient{hub: h, conn: conn, send: make(chan Message, 256), capability: capabilityFromContext(r.Context())}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
