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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"go.uber.org/zap"
)

var ErrNotLeader = errors.New("not leader")

const (
	raftApplyTimeout    = 5 * time.Second
	raftJoinBodyLimit   = 64 * 1024
	nodeIDFileName      = "node-id"
	leaderTransferLimit = 5 * time.Second
)

type RaftManager struct {
	Raft                  *raft.Raft
	FSM                   *FSM
	DataDir               string
	Bind                  string // "host:port" for Raft transport
	Advertise             string // "host:port" for advertising to other nodes
	HTTPAddr              string // Address peers are redirected to when this node leads
	NodeID                string
	Secret                string
	UseProductionTimeouts bool

	LogOutput io.Writer // Optional: Redirect Raft logs

	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	transport   *raft.NetworkTransport
	logStore    raft.LogStore
	stableStore raft.StableStore
	httpClient  *http.Client
}

func NewRaftManager(dataDir, bind, advertise, httpAddr, nodeID, secret string, fsm *FSM) *RaftManager {
	return &RaftManager{
		FSM:        fsm,
		DataDir:    dataDir,
		Bind:       bind,
		Advertise:  advertise,
		HTTPAddr:   httpAddr,
		NodeID:     nodeID,
		Secret:     secret,
		LogOutput:  raftLogOutput(),
		shutdownCh: make(chan struct{}),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// loadOrCreateNodeID keeps the node identity stable across restarts.
func (rm *RaftManager) loadOrCreateNodeID() error {
	if rm.NodeID != "" {
		return nil
	}
	path := filepath.Join(rm.DataDir, nodeIDFileName)
	b, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			rm.NodeID = id
			return nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	rm.NodeID = uuid.NewString()
	return os.WriteFile(path, []byte(rm.NodeID+"\n"), 0600)
}

func (rm *RaftManager) Start(bootstrap bool) error {
	if err := os.MkdirAll(rm.DataDir, 0755); err != nil {
		return err
	}
	if err := rm.loadOrCreateNodeID(); err != nil {
		return fmt.Errorf("failed to load node id: %w", err)
	}
	zap.S().Infof("Raft NodeID: %s", rm.NodeID)

	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(rm.NodeID)
	if rm.UseProductionTimeouts {
		config.HeartbeatTimeout = 5 * time.Second
		config.ElectionTimeout = 20 * time.Second
		config.LeaderLeaseTimeout = 5 * time.Second
	} else {
		// Faster timeouts for tests
		config.HeartbeatTimeout = 1000 * time.Millisecond
		config.ElectionTimeout = 1000 * time.Millisecond
		config.LeaderLeaseTimeout = 500 * time.Millisecond
	}
	config.CommitTimeout = 500 * time.Millisecond
	config.SnapshotInterval = 120 * time.Second
	config.SnapshotThreshold = 1024
	config.LogLevel = "INFO"
	if rm.LogOutput != nil {
		config.LogOutput = rm.LogOutput
	}

	notifyCh := make(chan bool, 1)
	config.NotifyCh = notifyCh

	var advertise net.Addr
	if rm.Advertise != "" {
		addr, err := net.ResolveTCPAddr("tcp", rm.Advertise)
		if err != nil {
			return fmt.Errorf("invalid raft advertise address %q: %w", rm.Advertise, err)
		}
		advertise = addr
	}
	transport, err := raft.NewTCPTransport(rm.Bind, advertise, 3, 10*time.Second, rm.LogOutput)
	if err != nil {
		return fmt.Errorf("raft transport: %w", err)
	}
	rm.transport = transport

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(rm.DataDir, "raft-log.bolt"))
	if err != nil {
		rm.closeStores()
		return err
	}
	rm.logStore = logStore // Assign immediately for cleanup
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(rm.DataDir, "raft-stable.bolt"))
	if err != nil {
		rm.closeStores()
		return err
	}
	rm.stableStore = stableStore

	snapshotStore, err := raft.NewFileSnapshotStore(rm.DataDir, 1, rm.LogOutput)
	if err != nil {
		rm.closeStores()
		return err
	}

	r, err := raft.NewRaft(config, rm.FSM, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		rm.closeStores()
		return err
	}
	rm.Raft = r

	if bootstrap {
		zap.S().Infof("Bootstrapping Raft cluster with NodeID: %s", rm.NodeID)
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      config.LocalID,
					Address: transport.LocalAddr(),
				},
			},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil {
			zap.S().Infof("Bootstrap error (might be already bootstrapped): %v", err)
		}
	}

	go rm.monitorLeadership(notifyCh)
	return nil
}

// LocalAddr is the address peers use to reach this node's transport.
func (rm *RaftManager) LocalAddr() string {
	if rm.transport == nil {
		return ""
	}
	return string(rm.transport.LocalAddr())
}

// IsLeader reports whether this node currently leads the cluster.
func (rm *RaftManager) IsLeader() bool {
	return rm.Raft != nil && rm.Raft.State() == raft.Leader
}

// WaitForSync blocks until the Raft FSM has applied all entries currently in the log.
// This prevents serving stale data immediately after a restart while the log is being replayed.
func (rm *RaftManager) WaitForSync(timeout time.Duration) error {
	if rm.Raft == nil {
		return nil
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return fmt.Errorf("timeout waiting for Raft sync (applied: %d, last: %d)", rm.Raft.AppliedIndex(), rm.Raft.LastIndex())
		case <-ticker.C:
			if rm.Raft.AppliedIndex() >= rm.Raft.LastIndex() {
				return nil
			}
		}
	}
}

// WaitForLeader blocks until the cluster has a known leader.
func (rm *RaftManager) WaitForLeader(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if addr, _ := rm.Raft.LeaderWithID(); addr != "" {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("no raft leader after %v", timeout)
}

// Propose proposes a command to the Raft cluster. It returns once the
// command has been applied to the local FSM.
func (rm *RaftManager) Propose(cmd RaftCommand) (uint64, error) {
	if !rm.IsLeader() {
		return 0, ErrNotLeader
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return 0, err
	}

	f := rm.Raft.Apply(data, raftApplyTimeout)
	if err := f.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return 0, ErrNotLeader
		}
		return 0, err
	}

	// f.Response() returns what FSM.Apply returns.
	if resp := f.Response(); resp != nil {
		if err, ok := resp.(error); ok {
			return f.Index(), err
		}
	}
	return f.Index(), nil
}

// raftPersister routes document writes through the replicated log.
type raftPersister struct {
	rm *RaftManager
}

func (p raftPersister) Put(key string, data json.RawMessage) error {
	_, err := p.rm.Propose(RaftCommand{Type: RaftPutDocument, Key: key, Data: data})
	return err
}

func (p raftPersister) Delete(key string) error {
	_, err := p.rm.Propose(RaftCommand{Type: RaftDeleteDocument, Key: key})
	return err
}

// Join adds a new voting node to the cluster.
func (rm *RaftManager) Join(nodeID, raftAddr, httpAddr string) error {
	if !rm.IsLeader() {
		return ErrNotLeader
	}
	zap.S().Infof("Received join request for remote node %s at Raft:%s, HTTP:%s", nodeID, raftAddr, httpAddr)

	if httpAddr != "" {
		cmd := RaftCommand{
			Type:     RaftNodeMeta,
			NodeMeta: &NodeMeta{NodeID: nodeID, HttpAddr: httpAddr},
		}
		if _, err := rm.Propose(cmd); err != nil {
			return fmt.Errorf("failed to store node metadata: %w", err)
		}
	}

	if err := rm.Raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(raftAddr), 0, 0).Error(); err != nil {
		return err
	}
	zap.S().Infof("Node %s joined successfully", nodeID)
	return nil
}

type joinRequest struct {
	NodeID          string `json:"nodeId"`
	RaftAddr        string `json:"raftAddr"`
	HttpAddr        string `json:"httpAddr,omitempty"`
	AppVersion      string `json:"appVersion,omitempty"`
	ProtocolVersion int    `json:"protocolVersion,omitempty"`
}

func (rm *RaftManager) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}
	secret := r.Header.Get("X-Raft-Secret")
	if rm.Secret == "" || secret != rm.Secret {
		http.Error(w, "Forbidden: Invalid Cluster Secret", http.StatusForbidden)
		return
	}
	if !rm.IsLeader() {
		if addr := rm.GetLeaderHTTPAddr(); addr != "" {
			w.Header().Set("X-Raft-Leader", addr)
		}
		http.Error(w, ErrNotLeader.Error(), http.StatusServiceUnavailable)
		return
	}

	var data joinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, raftJoinBodyLimit)).Decode(&data); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if data.NodeID == "" {
		http.Error(w, "Missing required field: nodeId", http.StatusBadRequest)
		return
	}
	if _, _, err := net.SplitHostPort(data.RaftAddr); err != nil {
		http.Error(w, "Invalid RaftAddr: must be host:port", http.StatusBadRequest)
		return
	}
	if data.ProtocolVersion != 0 && data.ProtocolVersion != CurrentProtocolVersion {
		http.Error(w, fmt.Sprintf("Protocol version mismatch: %d != %d", data.ProtocolVersion, CurrentProtocolVersion), http.StatusConflict)
		return
	}

	if err := rm.Join(data.NodeID, data.RaftAddr, data.HttpAddr); err != nil {
		http.Error(w, fmt.Sprintf("Failed to join: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Node %s joined cluster", data.NodeID)
}

// JoinCluster asks the node at leaderURL to add this node as a voter. It
// retries until ctx is done since the leader may still be starting.
func (rm *RaftManager) JoinCluster(ctx context.Context, leaderURL string) error {
	body, err := json.Marshal(joinRequest{
		NodeID:          rm.NodeID,
		RaftAddr:        rm.LocalAddr(),
		HttpAddr:        rm.HTTPAddr,
		AppVersion:      CurrentAppVersion,
		ProtocolVersion: CurrentProtocolVersion,
	})
	if err != nil {
		return err
	}
	target := strings.TrimSuffix(leaderURL, "/") + "/api/cluster/join"

	for attempt := 1; ; attempt++ {
		err = rm.postJoin(ctx, target, body)
		if err == nil {
			zap.S().Infof("Joined cluster via %s", leaderURL)
			return nil
		}
		zap.S().Warnf("Join attempt %d via %s failed: %v", attempt, leaderURL, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("join %s: %w", leaderURL, err)
		case <-time.After(time.Second):
		}
	}
}

func (rm *RaftManager) postJoin(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Raft-Secret", rm.Secret)
	resp, err := rm.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// GetLeaderHTTPAddr returns the HTTP address announced by the current
// leader, or its node id when no address is known.
func (rm *RaftManager) GetLeaderHTTPAddr() string {
	if rm.Raft == nil {
		return ""
	}
	_, leaderID := rm.Raft.LeaderWithID()
	if leaderID == "" {
		return ""
	}
	if addr := rm.FSM.GetNodeAddr(string(leaderID)); addr != "" {
		return addr
	}
	return string(leaderID)
}

// RaftStatus is the cluster view reported by /api/status.
type RaftStatus struct {
	NodeID       string   `json:"nodeId"`
	State        string   `json:"state"`
	Leader       string   `json:"leader,omitempty"`
	AppliedIndex uint64   `json:"appliedIndex"`
	LastIndex    uint64   `json:"lastIndex"`
	Peers        []string `json:"peers,omitempty"`
}

func (rm *RaftManager) Status() RaftStatus {
	st := RaftStatus{
		NodeID:       rm.NodeID,
		State:        rm.Raft.State().String(),
		Leader:       rm.GetLeaderHTTPAddr(),
		AppliedIndex: rm.Raft.AppliedIndex(),
		LastIndex:    rm.Raft.LastIndex(),
	}
	if f := rm.Raft.GetConfiguration(); f.Error() == nil {
		for _, s := range f.Configuration().Servers {
			st.Peers = append(st.Peers, string(s.ID))
		}
	}
	return st
}

// Shutdown gracefully shuts down the Raft node.
func (rm *RaftManager) Shutdown() error {
	rm.shutdownOnce.Do(func() {
		close(rm.shutdownCh)
	})
	if rm.Raft == nil {
		rm.closeStores()
		return nil
	}

	// Attempt graceful leadership transfer if leader
	if rm.IsLeader() && rm.hasPeers() {
		zap.S().Infof("Attempting leadership transfer before shutdown...")
		f := rm.Raft.LeadershipTransfer()

		done := make(chan error, 1)
		go func() { done <- f.Error() }()

		select {
		case err := <-done:
			if err != nil {
				zap.S().Infof("Leadership transfer failed (continuing): %v", err)
			} else {
				zap.S().Infof("Leadership transfer successful.")
			}
		case <-time.After(leaderTransferLimit):
			zap.S().Infof("Leadership transfer timed out (continuing).")
		}
	}

	raftErr := rm.Raft.Shutdown().Error()
	rm.closeStores()
	return raftErr
}

func (rm *RaftManager) hasPeers() bool {
	f := rm.Raft.GetConfiguration()
	if f.Error() != nil {
		return false
	}
	return len(f.Configuration().Servers) > 1
}

func (rm *RaftManager) closeStores() {
	if rm.logStore != nil {
		if c, ok := rm.logStore.(io.Closer); ok {
			c.Close()
		}
		rm.logStore = nil
	}
	if rm.stableStore != nil {
		if c, ok := rm.stableStore.(io.Closer); ok {
			c.Close()
		}
		rm.stableStore = nil
	}
	if rm.transport != nil && rm.Raft == nil {
		rm.transport.Close()
	}
}

// monitorLeadership announces this node's HTTP address each time it
// becomes leader, so followers can redirect clients.
func (rm *RaftManager) monitorLeadership(notifyCh <-chan bool) {
	for {
		select {
		case <-rm.shutdownCh:
			return
		case isLeader := <-notifyCh:
			if !isLeader || rm.HTTPAddr == "" {
				continue
			}
			if rm.FSM.GetNodeAddr(rm.NodeID) == rm.HTTPAddr {
				continue
			}
			cmd := RaftCommand{
				Type: RaftNodeMeta,
				NodeMeta: &NodeMeta{
					NodeID:          rm.NodeID,
					HttpAddr:        rm.HTTPAddr,
					AppVersion:      CurrentAppVersion,
					ProtocolVersion: CurrentProtocolVersion,
				},
			}
			if _, err := rm.Propose(cmd); err != nil {
				zap.S().Warnf("Failed to propose node metadata: %v", err)
			}
		}
	}
}
