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

package backoff_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/motion-core/pkg/backoff"
)

var _ = Describe("Error categories", func() {
	root := errors.New("i2c bus stuck") //nolint:err113 // Test needs dynamic error

	It("identifies each category through wrapping", func() {
		ignored := fmt.Errorf("display: %w", backoff.NewIgnoredError(root))
		transient := fmt.Errorf("power: %w", backoff.NewTransientError(root))
		permanent := fmt.Errorf("power: %w", backoff.NewPermanentError(root))

		Expect(backoff.IsIgnoredError(ignored)).To(BeTrue())
		Expect(backoff.IsTransientError(ignored)).To(BeFalse())

		Expect(backoff.IsTransientError(transient)).To(BeTrue())
		Expect(backoff.IsPermanentError(transient)).To(BeFalse())

		Expect(backoff.IsPermanentError(permanent)).To(BeTrue())
		Expect(backoff.IsIgnoredError(permanent)).To(BeFalse())

		Expect(errors.Is(permanent, root)).To(BeTrue())
		Expect(backoff.NewTransientError(root).Error()).To(Equal("i2c bus stuck"))
	})

	It("treats uncategorized errors as transient", func() {
		Expect(backoff.CategorizeError(nil)).To(BeNil())

		err := backoff.CategorizeError(root)
		Expect(backoff.IsTransientError(err)).To(BeTrue())

		// an existing category is kept
		perm := backoff.NewPermanentError(root)
		Expect(backoff.CategorizeError(perm)).To(BeIdenticalTo(perm))
	})

	It("reports nothing for plain errors or nil", func() {
		for _, err := range []error{nil, root} {
			Expect(backoff.IsIgnoredError(err)).To(BeFalse())
			Expect(backoff.IsTransientError(err)).To(BeFalse())
			Expect(backoff.IsPermanentError(err)).To(BeFalse())
		}
	})

	It("extracts the root cause", func() {
		wrapped := fmt.Errorf("scheduler: %w", backoff.NewPermanentError(fmt.Errorf("safety: %w", root)))
		Expect(backoff.ExtractOriginalError(wrapped)).To(BeIdenticalTo(root))
		Expect(backoff.ExtractOriginalError(root)).To(BeIdenticalTo(root))
		Expect(backoff.ExtractOriginalError(nil)).To(BeNil())
	})
})
