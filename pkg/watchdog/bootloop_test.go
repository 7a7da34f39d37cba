// Copyright 2025 UMH Systems GmbH
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

package watchdog_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/motion-core/pkg/watchdog"
)

var _ = Describe("BootLoopCounter", func() {
	var (
		cfg watchdog.BootLoopConfig
		t0  time.Time
	)

	BeforeEach(func() {
		cfg = watchdog.BootLoopConfig{
			Path:        filepath.Join(GinkgoT().TempDir(), "state", "bootloop.yaml"),
			MaxAttempts: 3,
			Window:      time.Minute,
			StableAfter: 10 * time.Second,
		}
		t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	boot := func(at time.Time) *watchdog.BootLoopCounter {
		b, err := watchdog.NewBootLoopCounter(cfg)
		Expect(err).NotTo(HaveOccurred())
		_, err = b.RecordBoot(at)
		Expect(err).NotTo(HaveOccurred())

		return b
	}

	It("persists attempts across restarts", func() {
		boot(t0)
		b := boot(t0.Add(5 * time.Second))

		Expect(b.Record().Attempts).To(Equal(2))
		Expect(b.SafeBoot()).To(BeFalse())
		Expect(cfg.Path).To(BeAnExistingFile())
	})

	It("enters safe boot after MaxAttempts within the window", func() {
		boot(t0)
		boot(t0.Add(5 * time.Second))
		b := boot(t0.Add(10 * time.Second))

		Expect(b.SafeBoot()).To(BeTrue())
		Expect(b.Record().SafeBoot).To(BeTrue())
	})

	It("starts a new window when the last one expired", func() {
		boot(t0)
		boot(t0.Add(5 * time.Second))
		b := boot(t0.Add(2 * time.Minute))

		Expect(b.Record().Attempts).To(Equal(1))
		Expect(b.SafeBoot()).To(BeFalse())
	})

	It("clears the counter once stable but keeps the session hold", func() {
		boot(t0)
		boot(t0.Add(time.Second))
		b := boot(t0.Add(2 * time.Second))
		Expect(b.SafeBoot()).To(BeTrue())

		cleared, err := b.MarkStable(t0.Add(5 * time.Second))
		Expect(err).NotTo(HaveOccurred())
		Expect(cleared).To(BeFalse())

		cleared, err = b.MarkStable(t0.Add(13 * time.Second))
		Expect(err).NotTo(HaveOccurred())
		Expect(cleared).To(BeTrue())
		Expect(b.Record().Attempts).To(BeZero())
		Expect(b.SafeBoot()).To(BeTrue())

		next := boot(t0.Add(20 * time.Second))
		Expect(next.Record().Attempts).To(Equal(1))
		Expect(next.SafeBoot()).To(BeFalse())
	})

	It("releases safe boot on an operator reset", func() {
		boot(t0)
		boot(t0.Add(time.Second))
		b := boot(t0.Add(2 * time.Second))

		Expect(b.Reset(t0.Add(3 * time.Second))).To(Succeed())
		Expect(b.SafeBoot()).To(BeFalse())
		Expect(b.Record().Attempts).To(BeZero())
	})

	It("starts fresh from a corrupt record", func() {
		Expect(os.MkdirAll(filepath.Dir(cfg.Path), 0o755)).To(Succeed())
		Expect(os.WriteFile(cfg.Path, []byte("attempts: [not a number"), 0o644)).To(Succeed())

		b := boot(t0)
		Expect(b.Record().Attempts).To(Equal(1))
	})

	It("works without a path", func() {
		cfg.Path = ""
		b := boot(t0)
		Expect(b.Record().Attempts).To(Equal(1))
	})
})
