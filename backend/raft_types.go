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
)

// RaftCommandType represents the type of operation to perform on the FSM.
type RaftCommandType string

const (
	RaftPutDocument    RaftCommandType = "PUT_DOCUMENT"
	RaftDeleteDocument RaftCommandType = "DELETE_DOCUMENT"
	RaftNodeMeta       RaftCommandType = "NODE_META"
)

// RaftCommand is a unified structure for all Raft log entries.
type RaftCommand struct {
	Type     RaftCommandType `json:"type"`
	Key      string          `json:"key,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	NodeMeta *NodeMeta       `json:"nodeMeta,omitempty"`
}

// NodeMeta contains metadata about a cluster node.
type NodeMeta struct {
	NodeID          string `json:"nodeId"`
	HttpAddr        string `json:"httpAddr"`
	AppVersion      string `json:"appVersion,omitempty"`
	ProtocolVersion int    `json:"protocolVersion,omitempty"`
}
