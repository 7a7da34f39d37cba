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

package hal_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/motion-core/pkg/hal"
)

var _ = Describe("DeviceWatchdog", func() {
	var path string

	BeforeEach(func() {
		// a regular file stands in for the character device
		path = filepath.Join(GinkgoT().TempDir(), "watchdog")
		Expect(os.WriteFile(path, nil, 0o600)).To(Succeed())
	})

	It("writes a keepalive per feed and the magic close character", func() {
		wd, err := hal.NewDeviceWatchdog(path)
		Expect(err).NotTo(HaveOccurred())

		Expect(wd.Feed()).To(Succeed())
		Expect(wd.Feed()).To(Succeed())
		Expect(wd.Close()).To(Succeed())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("kkV"))
	})

	It("refuses to feed after close", func() {
		wd, err := hal.NewDeviceWatchdog(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(wd.Close()).To(Succeed())

		Expect(wd.Feed()).To(MatchError(ContainSubstring("is closed")))
		Expect(wd.Close()).To(Succeed())
	})

	It("fails for a missing device", func() {
		_, err := hal.NewDeviceWatchdog(filepath.Join(GinkgoT().TempDir(), "missing"))
		Expect(err).To(MatchError(ContainSubstring("failed to open watchdog device")))
	})

	It("satisfies the hardware watchdog interface", func() {
		wd, err := hal.NewDeviceWatchdog(path)
		Expect(err).NotTo(HaveOccurred())
		defer wd.Close()

		var feeder hal.HardwareWatchdog = wd
		Expect(feeder.Feed()).To(Succeed())
	})
})
