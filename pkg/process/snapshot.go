// Copyright 2026 The orc-core Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package process

import (
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"
)

// MachineSnapshot is a point-in-time value copy of a machine's
// observable state, safe to hand to boundary consumers (status reports,
// the control API) without exposing runner-owned memory.
type MachineSnapshot struct {
	ID         string       `json:"id"`
	State      string       `json:"state"`
	LastChange *StateChange `json:"lastChange,omitempty"`
	LastFault  string       `json:"lastFault,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	ObservedAt time.Time    `json:"observedAt"`
}

// Snapshot captures the machine's current observable state.
func (m *Machine) Snapshot() MachineSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MachineSnapshot{
		ID:         m.ID(),
		State:      m.base.Current(),
		CreatedAt:  m.createdAt,
		ObservedAt: time.Now(),
	}

	if m.lastChange != nil {
		change := *m.lastChange
		snap.LastChange = &change
	}

	if m.lastFault != nil {
		snap.LastFault = m.lastFault.Error()
	}

	return snap
}

// SnapshotManager caches the most recent snapshot and hands out deep
// copies, so consumers polling the control API never alias memory the
// runner keeps mutating.
type SnapshotManager struct {
	mu   sync.RWMutex
	last *MachineSnapshot
}

// NewSnapshotManager creates an empty snapshot manager.
func NewSnapshotManager() *SnapshotManager {
	return &SnapshotManager{}
}

// Update replaces the cached snapshot.
func (s *SnapshotManager) Update(snap MachineSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &snap
}

// Get returns a deep copy of the cached snapshot, or nil when no
// snapshot was taken yet.
func (s *SnapshotManager) Get() *MachineSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return nil
	}

	var copied MachineSnapshot
	if err := deepcopy.Copy(&copied, s.last); err != nil {
		// Deep copy of a plain value struct cannot fail; fall back to a
		// shallow copy rather than dropping the snapshot.
		copied = *s.last
	}

	return &copied
}
