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
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/raft"
	"go.uber.org/zap"
)

// FSM applies replicated document writes to the local store.
type FSM struct {
	store *Store

	nodeMap          sync.Map // nodeID -> *NodeMeta
	lastAppliedIndex atomic.Uint64

	notifyMu sync.RWMutex
	notify   func(keys ...string)
}

func NewFSM(store *Store) *FSM {
	return &FSM{store: store}
}

// SetNotifier registers fn to be told which documents changed. A nil key
// list means everything may have changed.
func (f *FSM) SetNotifier(fn func(keys ...string)) {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()
	f.notify = fn
}

func (f *FSM) changed(keys ...string) {
	f.notifyMu.RLock()
	fn := f.notify
	f.notifyMu.RUnlock()
	if fn != nil {
		fn(keys...)
	}
}

func (f *FSM) LastAppliedIndex() uint64 {
	return f.lastAppliedIndex.Load()
}

func (f *FSM) Apply(l *raft.Log) interface{} {
	if len(l.Data) == 0 {
		return nil
	}
	var cmd RaftCommand
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		zap.S().Errorf("FSM Apply Error: failed to decode command: %v", err)
		return err
	}
	res := f.applyCommand(cmd)
	f.lastAppliedIndex.Store(l.Index)
	return res
}

func (f *FSM) applyCommand(cmd RaftCommand) interface{} {
	switch cmd.Type {
	case RaftPutDocument:
		if err := f.store.Put(cmd.Key, cmd.Data); err != nil {
			return err
		}
		f.changed(cmd.Key)
	case RaftDeleteDocument:
		if err := f.store.Delete(cmd.Key); err != nil {
			return err
		}
		f.changed(cmd.Key)
	case RaftNodeMeta:
		if cmd.NodeMeta == nil || cmd.NodeMeta.NodeID == "" {
			return fmt.Errorf("node meta without node id")
		}
		f.nodeMap.Store(cmd.NodeMeta.NodeID, cmd.NodeMeta)
	default:
		return fmt.Errorf("unknown raft command type %q", cmd.Type)
	}
	return nil
}

// GetNodeAddr returns the HTTP address a node announced, if any.
func (f *FSM) GetNodeAddr(nodeID string) string {
	if v, ok := f.nodeMap.Load(nodeID); ok {
		return v.(*NodeMeta).HttpAddr
	}
	return ""
}

func (f *FSM) nodes() map[string]*NodeMeta {
	nodes := make(map[string]*NodeMeta)
	f.nodeMap.Range(func(key, value interface{}) bool {
		nodes[key.(string)] = value.(*NodeMeta)
		return true
	})
	return nodes
}

type FSMSnapshot struct {
	manifest snapshotManifest
	docs     map[string]json.RawMessage
}

// Persist saves the snapshot to the given sink.
func (s *FSMSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := writeSnapshot(sink, s.manifest, s.docs); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

// Release releases the snapshot.
func (s *FSMSnapshot) Release() {}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	docs, err := f.store.Dump()
	if err != nil {
		zap.S().Errorf("FSM Snapshot Error: %v", err)
		return nil, err
	}
	return &FSMSnapshot{
		manifest: snapshotManifest{NodeMap: f.nodes(), RaftIndex: f.LastAppliedIndex()},
		docs:     docs,
	}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	manifest, docs, err := readSnapshot(rc)
	if err != nil {
		return err
	}
	if err := f.store.Restore(docs); err != nil {
		return err
	}
	f.nodeMap.Clear()
	for k, v := range manifest.NodeMap {
		f.nodeMap.Store(k, v)
	}
	f.lastAppliedIndex.Store(manifest.RaftIndex)
	f.changed()
	return nil
}
