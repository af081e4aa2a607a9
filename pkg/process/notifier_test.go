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

package process_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/open-run-control/orc-core/pkg/constants"
	"github.com/open-run-control/orc-core/pkg/process"
	"github.com/open-run-control/orc-core/pkg/state"
)

var _ = Describe("Notifier", func() {
	var notifier *process.Notifier

	BeforeEach(func() {
		notifier = process.NewNotifier()
	})

	It("delivers changes to every subscriber", func() {
		m := newMachine(process.MachineConfig{Notifier: notifier})

		idA, chA := notifier.Subscribe()
		idB, chB := notifier.Subscribe()
		defer notifier.Unsubscribe(idA)
		defer notifier.Unsubscribe(idB)

		_, err := m.Apply(context.Background(), process.CommandConfigure)
		Expect(err).NotTo(HaveOccurred())

		var change process.StateChange
		Eventually(chA).Should(Receive(&change))
		Expect(change.To).To(Equal(state.Configured))
		Eventually(chB).Should(Receive(&change))
		Expect(change.To).To(Equal(state.Configured))
	})

	It("closes the channel on unsubscribe", func() {
		id, ch := notifier.Subscribe()
		Expect(notifier.SubscriberCount()).To(Equal(1))

		notifier.Unsubscribe(id)
		Expect(notifier.SubscriberCount()).To(BeZero())
		Eventually(ch).Should(BeClosed())
	})

	It("tolerates unsubscribing an unknown id", func() {
		id, _ := notifier.Subscribe()
		notifier.Unsubscribe(id)
		notifier.Unsubscribe(id)
	})

	It("drops changes instead of blocking on a full subscriber", func() {
		m := newMachine(process.MachineConfig{Notifier: notifier})
		id, _ := notifier.Subscribe()
		defer notifier.Unsubscribe(id)

		// Never read from the channel; overflow its buffer. Each loop
		// iteration produces two transitions.
		ctx := context.Background()
		for range constants.NotifierBufferSize {
			_, err := m.Apply(ctx, process.CommandConfigure)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.Apply(ctx, process.CommandReset)
			Expect(err).NotTo(HaveOccurred())
		}

		// The machine kept transitioning even though the subscriber
		// stopped taking deliveries.
		Expect(m.CurrentState()).To(Equal(state.Standby))
	})
})
