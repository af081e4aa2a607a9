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

	"github.com/google/uuid"

	"github.com/open-run-control/orc-core/pkg/constants"
	"github.com/open-run-control/orc-core/pkg/metrics"
	"github.com/open-run-control/orc-core/pkg/state"
)

// CauseFault is the StateChange cause for transitions driven by
// out-of-band fault reports rather than a command.
const CauseFault = "fault"

// StateChange describes one transition of a machine, pushed to
// subscribers so remote controllers do not have to poll.
type StateChange struct {
	MachineID string      `json:"machineId"`
	From      state.State `json:"from"`
	To        state.State `json:"to"`
	Cause     string      `json:"cause"`
	At        time.Time   `json:"at"`
}

// Notifier fans state changes out to subscribers. Publication is
// non-blocking per subscriber: a subscriber that does not keep up loses
// notifications (counted in metrics) instead of stalling the machine.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]chan StateChange
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		subscribers: make(map[uuid.UUID]chan StateChange),
	}
}

// Subscribe registers a new subscriber and returns its id together with
// the receive channel. The channel is buffered; it is closed by
// Unsubscribe.
func (n *Notifier) Subscribe() (uuid.UUID, <-chan StateChange) {
	id := uuid.New()
	ch := make(chan StateChange, constants.NotifierBufferSize)

	n.mu.Lock()
	n.subscribers[id] = ch
	n.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids
// are ignored.
func (n *Notifier) Unsubscribe(id uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ch, ok := n.subscribers[id]; ok {
		delete(n.subscribers, id)
		close(ch)
	}
}

// SubscriberCount returns the number of active subscribers.
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return len(n.subscribers)
}

// publish delivers change to every subscriber without blocking.
func (n *Notifier) publish(change StateChange) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.subscribers {
		select {
		case ch <- change:
		default:
			metrics.IncDroppedNotification(change.MachineID)
		}
	}
}
