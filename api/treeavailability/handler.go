// Copyright 2021 Optakt Labs OÜ
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package treeavailability serves inclusion-proof queries over HTTP against
// a live TreeData mirror.
package treeavailability

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/worldtree-labs/world-tree/hash"
	"github.com/worldtree-labs/world-tree/merkle"
	"github.com/worldtree-labs/world-tree/worldtreeerr"
)

// TreeData is the subset of worldtree.TreeData the handler depends on.
type TreeData interface {
	InclusionProof(identity hash.Hash, root *hash.Hash) (merkle.Proof, uint32, error)
}

// SyncChecker reports whether the mirror has completed its initial sync to
// the chain head, satisfied by *worldtree.Updater.
type SyncChecker interface {
	Synced() bool
}

// Controller serves the inclusion proof endpoint.
type Controller struct {
	log    zerolog.Logger
	data   TreeData
	synced SyncChecker
}

// NewController builds a controller serving proofs from data, rejecting
// queries until synced reports the mirror has completed its initial sync.
func NewController(log zerolog.Logger, data TreeData, synced SyncChecker) *Controller {
	return &Controller{
		log:    log.With().Str("component", "tree_availability_controller").Logger(),
		data:   data,
		synced: synced,
	}
}

// NewMux builds the HTTP surface exposed by the tree availability service.
func NewMux(c *Controller) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/inclusionProof", c.GetInclusionProof)
	return mux
}

// InclusionProofResponse is the JSON response body for a successful proof
// query.
type InclusionProofResponse struct {
	Root     string   `json:"root"`
	Index    uint32   `json:"index"`
	Siblings []string `json:"siblings"`
	PathBits []bool   `json:"path_bits"`
}

// GetInclusionProof handles GET /inclusionProof?identity=&root=. identity is
// required; root is optional and, when omitted, queries the live tree.
func (c *Controller) GetInclusionProof(w http.ResponseWriter, r *http.Request) {
	if !c.synced.Synced() {
		http.Error(w, worldtreeerr.ErrNotSynced.Error(), http.StatusServiceUnavailable)
		return
	}

	identityParam := r.URL.Query().Get("identity")
	if identityParam == "" {
		http.Error(w, "missing required query parameter: identity", http.StatusBadRequest)
		return
	}
	identity, err := parseHash(identityParam)
	if err != nil {
		http.Error(w, "malformed identity: "+err.Error(), http.StatusBadRequest)
		return
	}

	var root *hash.Hash
	if rootParam := r.URL.Query().Get("root"); rootParam != "" {
		parsed, err := parseHash(rootParam)
		if err != nil {
			http.Error(w, "malformed root: "+err.Error(), http.StatusBadRequest)
			return
		}
		root = &parsed
	}

	proof, index, err := c.data.InclusionProof(identity, root)
	switch {
	case err == nil:
	case errors.Is(err, worldtreeerr.ErrRootNotRetained):
		http.Error(w, err.Error(), http.StatusGone)
		return
	case errors.Is(err, worldtreeerr.ErrLeafNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	default:
		c.log.Error().Err(err).Msg("could not build inclusion proof")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	res := InclusionProofResponse{
		Index:    index,
		Siblings: make([]string, len(proof.Siblings)),
		PathBits: proof.PathBits,
	}
	for i, sibling := range proof.Siblings {
		res.Siblings[i] = sibling.Hex()
	}
	if root != nil {
		res.Root = root.Hex()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		c.log.Error().Err(err).Msg("could not encode inclusion proof response")
	}
}

func parseHash(s string) (hash.Hash, error) {
	trimmed := s
	if len(trimmed) >= 2 && trimmed[0] == '0' && (trimmed[1] == 'x' || trimmed[1] == 'X') {
		trimmed = trimmed[2:]
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return hash.Hash{}, err
	}
	var h hash.Hash
	if len(raw) > len(h) {
		raw = raw[len(raw)-len(h):]
	}
	copy(h[len(h)-len(raw):], raw)
	return h, nil
}
