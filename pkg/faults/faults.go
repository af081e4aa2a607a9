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

// Package faults classifies domain faults reported to a machine. The
// category decides what the control loop does once the machine sits in
// the error state: transient faults are eligible for automatic recovery,
// permanent ones wait for an operator, advisory ones never force the
// error state at all.
package faults

import "errors"

// Category describes how a fault should be handled downstream.
type Category int

const (
	// CategoryAdvisory marks a fault that is logged and counted but does
	// not force the machine into the error state.
	CategoryAdvisory Category = iota

	// CategoryTransient marks a fault worth retrying: the machine goes to
	// error and automatic recovery may bring it back.
	CategoryTransient

	// CategoryPermanent marks a fault that automatic recovery must not
	// touch. The machine stays in error until an operator intervenes.
	CategoryPermanent
)

// String returns the lowercase category name used in logs and metrics.
func (c Category) String() string {
	switch c {
	case CategoryAdvisory:
		return "advisory"
	case CategoryPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// ParseCategory maps a lowercase category name to its Category. Unknown
// names report false.
func ParseCategory(name string) (Category, bool) {
	switch name {
	case "advisory":
		return CategoryAdvisory, true
	case "transient":
		return CategoryTransient, true
	case "permanent":
		return CategoryPermanent, true
	default:
		return CategoryTransient, false
	}
}

// CategorizedError wraps the underlying fault together with its Category.
type CategorizedError struct {
	Err      error
	Category Category
}

// Error returns the original error message.
func (ce *CategorizedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying wrapped error.
func (ce *CategorizedError) Unwrap() error {
	return ce.Err
}

// IsCategory checks if the CategorizedError has the specified category.
func (ce *CategorizedError) IsCategory(category Category) bool {
	return ce.Category == category
}

// NewAdvisoryFault wraps err as CategoryAdvisory.
func NewAdvisoryFault(err error) error {
	return &CategorizedError{Err: err, Category: CategoryAdvisory}
}

// NewTransientFault wraps err as CategoryTransient.
func NewTransientFault(err error) error {
	return &CategorizedError{Err: err, Category: CategoryTransient}
}

// NewPermanentFault wraps err as CategoryPermanent.
func NewPermanentFault(err error) error {
	return &CategorizedError{Err: err, Category: CategoryPermanent}
}

// Categorize ensures err carries a category, defaulting to transient for
// plain errors. Already categorized errors pass through unchanged.
func Categorize(err error) error {
	if err == nil {
		return nil
	}

	var ce *CategorizedError
	if errors.As(err, &ce) {
		return err
	}

	return NewTransientFault(err)
}

// CategoryOf extracts the category of err, treating uncategorized errors
// as transient.
func CategoryOf(err error) Category {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}

	return CategoryTransient
}

// IsAdvisoryFault is a convenience checker for CategoryAdvisory.
func IsAdvisoryFault(err error) bool {
	var ce *CategorizedError

	return errors.As(err, &ce) && ce.IsCategory(CategoryAdvisory)
}

// IsTransientFault is a convenience checker for CategoryTransient.
func IsTransientFault(err error) bool {
	var ce *CategorizedError

	return errors.As(err, &ce) && ce.IsCategory(CategoryTransient)
}

// IsPermanentFault is a convenience checker for CategoryPermanent.
func IsPermanentFault(err error) bool {
	var ce *CategorizedError

	return errors.As(err, &ce) && ce.IsCategory(CategoryPermanent)
}

// ExtractOriginal unwraps all nested errors to get the root cause.
func ExtractOriginal(err error) error {
	if err == nil {
		return nil
	}

	unwrapped := err
	for {
		next := errors.Unwrap(unwrapped)
		if next == nil {
			return unwrapped
		}
		unwrapped = next
	}
}
