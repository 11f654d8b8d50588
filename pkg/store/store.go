/*
 * Copyright (c) 2026, LoadLab contributors.
 *
 * LoadLab licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package store

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an application record does not exist.
var ErrNotFound = errors.New("app record not found")

// AppRecord is a single stored application. Records are created by the
// app-create handler and never updated or deleted.
type AppRecord struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AppStore holds all application records in memory. Writes are serialized
// so id assignment and insertion order can never race; reads run
// concurrently.
type AppStore struct {
	mu      sync.RWMutex
	records map[string]*AppRecord // Key: record ID
	order   []string              // IDs in insertion order
	seq     int64
}

// NewAppStore creates a new in-memory app store
func NewAppStore() *AppStore {
	return &AppStore{
		records: make(map[string]*AppRecord),
	}
}

// Create stores a new record with a fresh unique id and returns a copy.
func (s *AppStore) Create(payload json.RawMessage) AppRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	rec := &AppRecord{
		ID:        uuid.New().String(),
		Seq:       s.seq,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)

	return *rec
}

// Get returns a copy of the record with the given id.
func (s *AppStore) Get(id string) (AppRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return AppRecord{}, ErrNotFound
	}
	return *rec, nil
}

// List returns copies of all records in insertion order.
func (s *AppStore) List() []AppRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AppRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.records[id])
	}
	return out
}

// Len returns the number of stored records.
func (s *AppStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
