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

package backoff

import "errors"

// ErrorCategory tells the caller how to react to an error from the safety path.
type ErrorCategory int

const (
	// CategoryIgnored marks an error that changes nothing, e.g. a display frame that was skipped.
	CategoryIgnored ErrorCategory = iota

	// CategoryTransient marks an error that may resolve on the next cycle, e.g. a bus lock timeout
	// or a bus that is being recovered. The caller falls back to its safe default for this cycle.
	CategoryTransient

	// CategoryPermanent marks an error that will not resolve without intervention,
	// e.g. a critical task that could not be created or a bus that stayed down after all retries.
	CategoryPermanent
)

// CategorizedError is a wrapper that includes the underlying error plus a Category.
type CategorizedError struct {
	Err      error
	Category ErrorCategory
}

// Error returns the original error message.
func (ce *CategorizedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying wrapped error.
func (ce *CategorizedError) Unwrap() error {
	return ce.Err
}

// NewIgnoredError wraps err as CategoryIgnored.
func NewIgnoredError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryIgnored}
}

// NewTransientError wraps err as CategoryTransient.
func NewTransientError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryTransient}
}

// NewPermanentError wraps err as CategoryPermanent.
func NewPermanentError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryPermanent}
}

// CategorizeError ensures that every error is at least Transient if not already categorized.
func CategorizeError(err error) error {
	if err == nil {
		return nil
	}

	var ce *CategorizedError
	if errors.As(err, &ce) {
		return err
	}

	return NewTransientError(err)
}

func hasCategory(err error, category ErrorCategory) bool {
	var ce *CategorizedError

	return errors.As(err, &ce) && ce.Category == category
}

// IsIgnoredError is a convenience checker for CategoryIgnored.
func IsIgnoredError(err error) bool { return hasCategory(err, CategoryIgnored) }

// IsTransientError is a convenience checker for CategoryTransient.
func IsTransientError(err error) bool { return hasCategory(err, CategoryTransient) }

// IsPermanentError is a convenience checker for CategoryPermanent.
func IsPermanentError(err error) bool { return hasCategory(err, CategoryPermanent) }

// ExtractOriginalError unwraps all nested errors to get the root cause.
func ExtractOriginalError(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}

		err = next
	}

	return nil
}
