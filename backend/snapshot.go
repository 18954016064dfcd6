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
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	snapshotManifestName = "manifest.json"
	snapshotDocPrefix    = "docs/"
	maxSnapshotEntrySize = 10 * 1024 * 1024
)

type snapshotManifest struct {
	NodeMap   map[string]*NodeMeta `json:"nodeMap"`
	RaftIndex uint64               `json:"raftIndex"`
}

// writeSnapshot writes a gzipped tar holding the manifest and one entry per
// document.
func writeSnapshot(w io.Writer, manifest snapshotManifest, docs map[string]json.RawMessage) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	if err := writeFileToTar(tw, snapshotManifestName, manifestBytes); err != nil {
		return err
	}
	for key, data := range docs {
		if err := writeFileToTar(tw, snapshotDocPrefix+key, data); err != nil {
			return fmt.Errorf("snapshot %s: %w", key, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}

func readSnapshot(r io.Reader) (snapshotManifest, map[string]json.RawMessage, error) {
	var manifest snapshotManifest
	gz, err := gzip.NewReader(r)
	if err != nil {
		return manifest, nil, err
	}
	defer gz.Close()

	docs := make(map[string]json.RawMessage)
	seenManifest := false
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return manifest, nil, err
		}
		if header.Size > maxSnapshotEntrySize {
			return manifest, nil, fmt.Errorf("snapshot entry %s too large: %d bytes", header.Name, header.Size)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return manifest, nil, err
		}
		switch {
		case header.Name == snapshotManifestName:
			if err := json.Unmarshal(data, &manifest); err != nil {
				return manifest, nil, fmt.Errorf("snapshot manifest: %w", err)
			}
			seenManifest = true
		case strings.HasPrefix(header.Name, snapshotDocPrefix):
			key := strings.TrimPrefix(header.Name, snapshotDocPrefix)
			if !validDocKey(key) {
				return manifest, nil, fmt.Errorf("snapshot has invalid document key %q", key)
			}
			docs[key] = data
		default:
			return manifest, nil, fmt.Errorf("unexpected snapshot entry %q", header.Name)
		}
	}
	if !seenManifest {
		return manifest, nil, errors.New("snapshot has no manifest")
	}
	return manifest, docs, nil
}

func writeFileToTar(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name: name,
		Size: int64(len(data)),
		Mode: 0644,
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
