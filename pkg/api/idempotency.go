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

package api

import (
	"sync"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"

	"github.com/open-run-control/orc-core/pkg/constants"
)

// commandOutcome is the recorded result of one executed command
// request, replayed verbatim for retries carrying the same request id.
type commandOutcome struct {
	Body   commandResponse
	Status int
}

// commandDedup remembers command outcomes by request id for a bounded
// time, so clients can retry safely without re-executing transitions.
type commandDedup struct {
	// mu guards the outcome map; the expiremap handles TTL and
	// expiration underneath. Dedup is best effort: two first requests
	// racing on the same id can both miss and execute. Replay
	// protection targets retries arriving after an outcome is
	// recorded, which is the case client retry loops produce.
	mu       sync.RWMutex
	outcomes *expiremap.ExpireMap[string, *commandOutcome]
}

func newCommandDedup() *commandDedup {
	return &commandDedup{
		outcomes: expiremap.NewEx[string, *commandOutcome](
			constants.CommandDedupCullInterval, constants.CommandDedupTTL),
	}
}

// lookup returns the recorded outcome for id, if any.
func (d *commandDedup) lookup(id string) (*commandOutcome, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	outcome, ok := d.outcomes.Load(id)
	if !ok || outcome == nil {
		return nil, false
	}

	return *outcome, true
}

// record stores the outcome for id.
func (d *commandDedup) record(id string, outcome *commandOutcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outcomes.Set(id, outcome)
}
