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

package treeavailability_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldtree-labs/world-tree/api/treeavailability"
	"github.com/worldtree-labs/world-tree/hash"
	"github.com/worldtree-labs/world-tree/merkle"
	"github.com/worldtree-labs/world-tree/worldtree"
)

func commitment(n byte) hash.Hash {
	var h hash.Hash
	h[31] = n
	return h
}

type alwaysSynced struct{}

func (alwaysSynced) Synced() bool { return true }

func TestGetInclusionProofRejectsBeforeSync(t *testing.T) {
	data := worldtree.NewTreeData(16, 8, 64)
	controller := treeavailability.NewController(zerolog.Nop(), data, notSynced{})
	mux := treeavailability.NewMux(controller)

	req := httptest.NewRequest(http.MethodGet, "/inclusionProof?identity="+commitment(1).Hex(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type notSynced struct{}

func (notSynced) Synced() bool { return false }

func TestGetInclusionProofReturnsProof(t *testing.T) {
	data := worldtree.NewTreeData(16, 8, 64)
	_, err := data.Append([]merkle.LeafUpdate{{Index: 0, Value: commitment(7)}})
	require.NoError(t, err)

	controller := treeavailability.NewController(zerolog.Nop(), data, alwaysSynced{})
	mux := treeavailability.NewMux(controller)

	req := httptest.NewRequest(http.MethodGet, "/inclusionProof?identity="+commitment(7).Hex(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var res treeavailability.InclusionProofResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, uint32(0), res.Index)
}

func TestGetInclusionProofMissingIdentity(t *testing.T) {
	data := worldtree.NewTreeData(16, 8, 64)
	controller := treeavailability.NewController(zerolog.Nop(), data, alwaysSynced{})
	mux := treeavailability.NewMux(controller)

	req := httptest.NewRequest(http.MethodGet, "/inclusionProof", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetInclusionProofUnknownIdentity(t *testing.T) {
	data := worldtree.NewTreeData(16, 8, 64)
	controller := treeavailability.NewController(zerolog.Nop(), data, alwaysSynced{})
	mux := treeavailability.NewMux(controller)

	req := httptest.NewRequest(http.MethodGet, "/inclusionProof?identity="+commitment(9).Hex(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetInclusionProofEvictedRoot(t *testing.T) {
	data := worldtree.NewTreeData(16, 8, 1)
	root1, err := data.Append([]merkle.LeafUpdate{{Index: 0, Value: commitment(1)}})
	require.NoError(t, err)
	_, err = data.Append([]merkle.LeafUpdate{{Index: 1, Value: commitment(2)}})
	require.NoError(t, err)
	_, err = data.Append([]merkle.LeafUpdate{{Index: 2, Value: commitment(3)}})
	require.NoError(t, err)

	controller := treeavailability.NewController(zerolog.Nop(), data, alwaysSynced{})
	mux := treeavailability.NewMux(controller)

	req := httptest.NewRequest(http.MethodGet, "/inclusionProof?identity="+commitment(1).Hex()+"&root="+root1.Hex(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGone, rec.Code)
}
