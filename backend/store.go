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
	"errors"
	"fmt"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/c2FmZQ/storage"
	"go.uber.org/zap"

	"github.com/ttbt-io/lineup/backend/lineup"
)

// Persister writes documents. The Store is one; in a replicated deployment
// writes go through raft proposals instead.
type Persister interface {
	Put(key string, data json.RawMessage) error
	Delete(key string) error
}

// GameSummary is the list view of a saved game.
type GameSummary struct {
	ID        string `json:"id"`
	Opponent  string `json:"opponent"`
	Date      string `json:"date"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	Status    string `json:"status"`
}

func summarize(g *lineup.Game) GameSummary {
	status := g.Status
	if status == "" {
		status = StatusActive
	}
	return GameSummary{
		ID:        g.ID,
		Opponent:  g.Opponent,
		Date:      g.Date,
		UpdatedAt: g.UpdatedAt,
		Status:    status,
	}
}

// Store keeps the lineup documents in encrypted, compressed files under the
// storage directory. Documents are addressed by key, a relative path such as
// DocRoster or gameKey(id).
type Store struct {
	storage *storage.Storage
	mu      sync.Map // key -> *sync.RWMutex
}

// NewStore returns a Store on top of s.
func NewStore(s *storage.Storage) *Store {
	return &Store{storage: s}
}

func (s *Store) lock(key string) *sync.RWMutex {
	m, _ := s.mu.LoadOrStore(key, &sync.RWMutex{})
	return m.(*sync.RWMutex)
}

func gameKey(id string) string {
	return filepath.ToSlash(filepath.Join(gamesDir, url.PathEscape(id)+".json"))
}

// gameIDFromKey returns the id of a saved game key.
func gameIDFromKey(key string) (string, bool) {
	name, ok := strings.CutPrefix(key, gamesDir+"/")
	if !ok || strings.Contains(name, "/") {
		return "", false
	}
	encoded, ok := strings.CutSuffix(name, ".json")
	if !ok || encoded == "" {
		return "", false
	}
	id, err := url.PathUnescape(encoded)
	if err != nil || url.PathEscape(id) != encoded {
		return "", false
	}
	return id, true
}

// validDocKey reports whether key names a document this store manages.
func validDocKey(key string) bool {
	if key == DocRoster || key == DocCurrentGame {
		return true
	}
	_, ok := gameIDFromKey(key)
	return ok
}

// Put replaces the document at key.
func (s *Store) Put(key string, data json.RawMessage) error {
	if !validDocKey(key) {
		return fmt.Errorf("invalid document key %q", key)
	}
	if !json.Valid(data) {
		return fmt.Errorf("document %s is not valid JSON", key)
	}
	mutex := s.lock(key)
	mutex.Lock()
	defer mutex.Unlock()

	if err := s.storage.SaveDataFile(key, data); err != nil {
		return fmt.Errorf("storage.SaveDataFile: %w", err)
	}
	return nil
}

// Get returns the document at key, or os.ErrNotExist.
func (s *Store) Get(key string) (json.RawMessage, error) {
	if !validDocKey(key) {
		return nil, fmt.Errorf("invalid document key %q", key)
	}
	mutex := s.lock(key)
	mutex.RLock()
	defer mutex.RUnlock()

	var data json.RawMessage
	if err := s.storage.ReadDataFile(key, &data); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("ReadDataFile: %w", err)
	}
	return data, nil
}

// Delete removes the document at key. Removing a missing document is not an
// error.
func (s *Store) Delete(key string) error {
	if !validDocKey(key) {
		return fmt.Errorf("invalid document key %q", key)
	}
	mutex := s.lock(key)
	mutex.Lock()
	defer mutex.Unlock()

	if err := os.Remove(filepath.Join(s.storage.Dir(), filepath.FromSlash(key))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not remove %s: %w", key, err)
	}
	return nil
}

// Keys lists the keys of every stored document, settings first.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	for _, key := range []string{DocRoster, DocCurrentGame} {
		if _, err := os.Stat(filepath.Join(s.storage.Dir(), filepath.FromSlash(key))); err == nil {
			keys = append(keys, key)
		}
	}
	files, err := os.ReadDir(filepath.Join(s.storage.Dir(), gamesDir))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not read games directory: %w", err)
	}
	var games []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		key := gamesDir + "/" + file.Name()
		if _, ok := gameIDFromKey(key); ok {
			games = append(games, key)
		}
	}
	slices.Sort(games)
	return append(keys, games...), nil
}

// Dump returns every stored document.
func (s *Store) Dump() (map[string]json.RawMessage, error) {
	keys, err := s.Keys()
	if err != nil {
		return nil, err
	}
	docs := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		data, err := s.Get(key)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("dump %s: %w", key, err)
		}
		docs[key] = data
	}
	return docs, nil
}

// Restore makes the store hold exactly docs.
func (s *Store) Restore(docs map[string]json.RawMessage) error {
	keys, err := s.Keys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, ok := docs[key]; !ok {
			if err := s.Delete(key); err != nil {
				return err
			}
		}
	}
	for key, data := range docs {
		if err := s.Put(key, data); err != nil {
			return fmt.Errorf("restore %s: %w", key, err)
		}
	}
	return nil
}

func (s *Store) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}
	return s.Put(key, data)
}

func (s *Store) getJSON(key string, v any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// LoadRoster returns the saved roster, or the default roster if none was
// ever saved.
func (s *Store) LoadRoster() (lineup.Roster, error) {
	var r lineup.Roster
	if err := s.getJSON(DocRoster, &r); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return lineup.DefaultRoster(), nil
		}
		return lineup.Roster{}, err
	}
	return r, nil
}

// SaveRoster validates and saves the roster.
func (s *Store) SaveRoster(r lineup.Roster) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.putJSON(DocRoster, r)
}

// LoadCurrentGame returns the game being edited, or os.ErrNotExist.
func (s *Store) LoadCurrentGame() (*lineup.Game, error) {
	var g lineup.Game
	if err := s.getJSON(DocCurrentGame, &g); err != nil {
		return nil, err
	}
	g.Normalize()
	return &g, nil
}

// SaveCurrentGame replaces the game being edited.
func (s *Store) SaveCurrentGame(g *lineup.Game) error {
	return s.putJSON(DocCurrentGame, g)
}

// loadGame returns the stored document of a saved game, tombstones included.
func (s *Store) loadGame(id string) (*lineup.Game, error) {
	var g lineup.Game
	if err := s.getJSON(gameKey(id), &g); err != nil {
		return nil, err
	}
	g.Normalize()
	return &g, nil
}

// LoadGame returns a saved game. Deleted games are reported as
// os.ErrNotExist.
func (s *Store) LoadGame(id string) (*lineup.Game, error) {
	g, err := s.loadGame(id)
	if err != nil {
		return nil, err
	}
	if g.Status == StatusDeleted {
		return nil, os.ErrNotExist
	}
	return g, nil
}

// SaveGame saves g under its id.
func (s *Store) SaveGame(g *lineup.Game) error {
	if g.ID == "" {
		return errors.New("saved game needs an id")
	}
	return s.putJSON(gameKey(g.ID), g)
}

func tombstone(id string) *lineup.Game {
	return &lineup.Game{
		ID:        id,
		Status:    StatusDeleted,
		DeletedAt: time.Now().UnixNano(),
		GameData:  map[int]*lineup.InningState{},
	}
}

// DeleteGame overwrites a saved game with a tombstone.
func (s *Store) DeleteGame(id string) error {
	if _, err := s.loadGame(id); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return s.putJSON(gameKey(id), tombstone(id))
}

// PurgeGame permanently deletes a saved game file.
func (s *Store) PurgeGame(id string) error {
	return s.Delete(gameKey(id))
}

// SavedGames iterates over the saved games that are not deleted.
func (s *Store) SavedGames() iter.Seq2[*lineup.Game, error] {
	return func(yield func(*lineup.Game, error) bool) {
		keys, err := s.Keys()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, key := range keys {
			id, ok := gameIDFromKey(key)
			if !ok {
				continue
			}
			g, err := s.LoadGame(id)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				zap.S().Warnf("could not load game %q: %v", id, err)
				continue
			}
			if !yield(g, nil) {
				return
			}
		}
	}
}

// ListSavedGames iterates over the summaries of SavedGames.
func (s *Store) ListSavedGames() iter.Seq2[GameSummary, error] {
	return func(yield func(GameSummary, error) bool) {
		for g, err := range s.SavedGames() {
			if err != nil {
				yield(GameSummary{}, err)
				return
			}
			if !yield(summarize(g), nil) {
				return
			}
		}
	}
}
