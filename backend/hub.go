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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ttbt-io/lineup/backend/lineup"
)

var (
	ErrHubBusy   = errors.New("hub busy")
	ErrHubClosed = errors.New("hub closed")
)

// Snapshot doc names.
const (
	SnapshotCurrentGame = "currentGame"
	SnapshotRoster      = "roster"
	SnapshotGames       = DocGames
)

// HubRequest types
const (
	ReqTypeLoad   = "LOAD"
	ReqTypeApply  = "APPLY"
	ReqTypeReload = "RELOAD"
)

// HubRequest represents a request to the Hub
type HubRequest struct {
	Type       string
	Client     *wsClient // Set for commands sent over a websocket
	MsgID      string
	Command    Command
	Capability Capability
	Keys       []string         // For Reload: changed document keys, nil for all
	Reply      chan HubResponse // For HTTP requests
}

// HubResponse represents a response from the Hub
type HubResponse struct {
	State docState
	Error error
}

// Hub owns the in-memory roster and current game. All reads and writes go
// through its run loop, which also fans snapshots out to websocket clients.
type Hub struct {
	// Registered clients.
	clients map[*wsClient]bool

	// Inbound requests
	requests chan HubRequest

	// Register requests from the clients.
	register chan *wsClient

	// Unregister requests from clients.
	unregister chan *wsClient

	done    chan struct{}
	stopped chan struct{}

	// In-memory state
	state  docState
	loaded bool

	store   *Store
	persist Persister
	// replicated is set when writes go through raft. Broadcasts then happen
	// when the FSM reports the applied documents.
	replicated bool
	now        func() time.Time

	numClients atomic.Int32
}

// NewHub starts a hub. persist receives every document write; it is usually
// the store itself.
func NewHub(store *Store, persist Persister, replicated bool) *Hub {
	h := &Hub{
		requests:   make(chan HubRequest, 64), // Buffered to prevent dropping FSM updates
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		clients:    make(map[*wsClient]bool),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		store:      store,
		persist:    persist,
		replicated: replicated,
		now:        time.Now,
	}
	go h.run()
	return h
}

// Close stops the hub and disconnects its clients.
func (h *Hub) Close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	<-h.stopped
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	return int(h.numClients.Load())
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.numClients.Store(int32(len(h.clients)))
			if err := h.ensureLoaded(); err != nil {
				zap.S().Errorf("hub load: %v", err)
				client.sendJSON(Message{Type: MsgTypeError, Reason: "Server error loading lineup"})
				continue
			}
			for _, doc := range []string{SnapshotRoster, SnapshotCurrentGame, SnapshotGames} {
				if msg, err := h.snapshotMessage(doc); err == nil {
					client.sendJSON(msg)
				} else {
					zap.S().Errorf("snapshot %s: %v", doc, err)
				}
			}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.numClients.Store(int32(len(h.clients)))
			}
		case req := <-h.requests:
			if err := h.ensureLoaded(); err != nil {
				zap.S().Errorf("hub load: %v", err)
				h.respond(req, HubResponse{Error: err})
				continue
			}
			switch req.Type {
			case ReqTypeLoad:
				h.respond(req, HubResponse{State: h.state})
			case ReqTypeApply:
				h.handleApply(req)
			case ReqTypeReload:
				h.handleReload(req.Keys)
			}
		case <-h.done:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.numClients.Store(0)
			return
		}
	}
}

func (h *Hub) respond(req HubRequest, resp HubResponse) {
	if req.Reply != nil {
		req.Reply <- resp
	}
	if req.Client == nil || req.Type != ReqTypeApply {
		return
	}
	var inel *lineup.IneligibleSwapError
	switch {
	case resp.Error == nil:
		req.Client.sendJSON(Message{Type: MsgTypeAck, ID: req.MsgID})
	case errors.As(resp.Error, &inel):
		req.Client.sendJSON(Message{Type: MsgTypeRejected, ID: req.MsgID, Reason: inel.Error()})
	default:
		req.Client.sendJSON(Message{Type: MsgTypeError, ID: req.MsgID, Reason: resp.Error.Error()})
	}
}

func (h *Hub) ensureLoaded() error {
	if h.loaded {
		return nil
	}
	roster, err := h.store.LoadRoster()
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	g, err := h.store.LoadCurrentGame()
	if isNotFound(err) {
		g, err = lineup.NewGame(roster, h.now().Format(dateLayout)), nil
	}
	if err != nil {
		return fmt.Errorf("load current game: %w", err)
	}
	h.state = docState{Game: g, Roster: roster}
	h.loaded = true
	return nil
}

func (h *Hub) handleApply(req HubRequest) {
	if !req.Capability.CanEdit {
		h.respond(req, HubResponse{Error: ErrForbidden})
		return
	}
	if err := ValidateCommand(req.Command); err != nil {
		h.respond(req, HubResponse{Error: err})
		return
	}
	next, writes, err := applyCommand(h.state, req.Command, h.store, h.now())
	if err != nil {
		h.respond(req, HubResponse{Error: err})
		return
	}
	keys := make([]string, 0, len(writes))
	for _, w := range writes {
		if w.Data == nil {
			err = h.persist.Delete(w.Key)
		} else {
			err = h.persist.Put(w.Key, w.Data)
		}
		if err != nil {
			// Earlier writes of this command may have landed. The next reload
			// brings memory back in line with the store.
			h.loaded = len(keys) == 0
			h.respond(req, HubResponse{Error: fmt.Errorf("persist %s: %w", w.Key, err)})
			return
		}
		keys = append(keys, w.Key)
	}
	h.state = next
	zap.S().Debugf("applied %s by %s", req.Command.Type, maskEmail(req.Capability.Editor))
	if !h.replicated {
		h.broadcastKeys(keys)
	}
	h.respond(req, HubResponse{State: h.state})
}

func (h *Hub) handleReload(keys []string) {
	if keys == nil {
		h.loaded = false
		if err := h.ensureLoaded(); err != nil {
			zap.S().Errorf("hub reload: %v", err)
			return
		}
		h.broadcastDocs([]string{SnapshotRoster, SnapshotCurrentGame, SnapshotGames})
		return
	}
	for _, key := range keys {
		switch key {
		case DocRoster:
			if r, err := h.store.LoadRoster(); err == nil {
				h.state.Roster = r
			} else {
				zap.S().Errorf("reload roster: %v", err)
			}
		case DocCurrentGame:
			g, err := h.store.LoadCurrentGame()
			switch {
			case err == nil:
				h.state.Game = g
			case isNotFound(err):
				h.state.Game = lineup.NewGame(h.state.Roster, h.now().Format(dateLayout))
			default:
				zap.S().Errorf("reload current game: %v", err)
			}
		}
	}
	h.broadcastKeys(keys)
}

// docsForKeys maps document keys to the snapshot docs they affect.
func docsForKeys(keys []string) []string {
	var docs []string
	add := func(d string) {
		if !slices.Contains(docs, d) {
			docs = append(docs, d)
		}
	}
	for _, key := range keys {
		switch {
		case key == DocRoster:
			add(SnapshotRoster)
		case key == DocCurrentGame:
			add(SnapshotCurrentGame)
		case strings.HasPrefix(key, gamesDir+"/"):
			add(SnapshotGames)
		}
	}
	return docs
}

func (h *Hub) broadcastKeys(keys []string) {
	h.broadcastDocs(docsForKeys(keys))
}

func (h *Hub) broadcastDocs(docs []string) {
	if len(h.clients) == 0 {
		return
	}
	for _, doc := range docs {
		msg, err := h.snapshotMessage(doc)
		if err != nil {
			zap.S().Errorf("snapshot %s: %v", doc, err)
			continue
		}
		h.broadcast(msg)
	}
}

func (h *Hub) broadcast(msg Message) {
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
	h.numClients.Store(int32(len(h.clients)))
}

func (h *Hub) snapshotMessage(doc string) (Message, error) {
	var v any
	switch doc {
	case SnapshotCurrentGame:
		v = h.state.Game
	case SnapshotRoster:
		v = h.state.Roster
	case SnapshotGames:
		list := make([]GameSummary, 0)
		for s, err := range h.store.ListSavedGames() {
			if err != nil {
				return Message{}, err
			}
			list = append(list, s)
		}
		v = list
	default:
		return Message{}, fmt.Errorf("unknown doc %q", doc)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MsgTypeSnapshot, Doc: doc, Data: data}, nil
}

// do sends req to the run loop and waits for the reply. It fails fast with
// ErrHubBusy when the request queue is full.
func (h *Hub) do(ctx context.Context, req HubRequest) (docState, error) {
	req.Reply = make(chan HubResponse, 1)
	select {
	case <-h.done:
		return docState{}, ErrHubClosed
	default:
	}
	select {
	case h.requests <- req:
	default:
		return docState{}, ErrHubBusy
	}
	select {
	case resp := <-req.Reply:
		return resp.State, resp.Error
	case <-ctx.Done():
		return docState{}, ctx.Err()
	case <-h.stopped:
		return docState{}, ErrHubClosed
	}
}

// Snapshot returns copies of the current game and roster.
func (h *Hub) Snapshot(ctx context.Context) (*lineup.Game, lineup.Roster, error) {
	st, err := h.do(ctx, HubRequest{Type: ReqTypeLoad})
	if err != nil {
		return nil, lineup.Roster{}, err
	}
	return st.Game.Clone(), cloneRoster(st.Roster), nil
}

// Apply runs cmd on behalf of a caller holding capability c and returns the
// resulting current game and roster.
func (h *Hub) Apply(ctx context.Context, cmd Command, c Capability) (*lineup.Game, lineup.Roster, error) {
	st, err := h.do(ctx, HubRequest{Type: ReqTypeApply, Command: cmd, Capability: c})
	if err != nil {
		return nil, lineup.Roster{}, err
	}
	return st.Game.Clone(), cloneRoster(st.Roster), nil
}

// Reload asks the hub to re-read the given documents from the store and
// broadcast them. Nil keys reloads everything. It never blocks.
func (h *Hub) Reload(keys ...string) {
	select {
	case h.requests <- HubRequest{Type: ReqTypeReload, Keys: keys}:
	default:
		zap.S().Warnf("Hub channel full, dropping reload of %v", keys)
	}
}

func cloneRoster(r lineup.Roster) lineup.Roster {
	return lineup.Roster{
		Players: slices.Clone(r.Players),
		Subs:    slices.Clone(r.Subs),
	}
}
