// Package errors classifies delivery failures and retries the transient ones.
//
// The dispatcher core never retries. A listener that owns a delivery, such as
// the outbound notifier, wraps its attempts in Do and reports only the final
// error to the pool.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category says whether retrying a failed delivery can help.
type Category int

const (
	// CategoryTransient failures may clear up: broker back-pressure,
	// deadlines, flaky transports.
	CategoryTransient Category = iota

	// CategoryPermanent failures will repeat: bad payloads, closed
	// publishers, cancelled work.
	CategoryPermanent
)

var categoryNames = [...]string{
	CategoryTransient: "transient",
	CategoryPermanent: "permanent",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "unknown"
	}
	return categoryNames[c]
}

// CategorizedError tags an error with its category and the operation that
// produced it.
type CategorizedError struct {
	Op       string
	Category Category
	Err      error
}

func (e *CategorizedError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s [%s]", e.Err, e.Category)
	}
	return fmt.Sprintf("%s: %s [%s]", e.Op, e.Err, e.Category)
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Transient marks err as worth retrying. A nil err stays nil.
func Transient(err error, op string) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{Op: op, Category: CategoryTransient, Err: err}
}

// Permanent marks err as not worth retrying. A nil err stays nil.
func Permanent(err error, op string) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{Op: op, Category: CategoryPermanent, Err: err}
}

// Categorize classifies err. An explicit category anywhere in the chain
// wins; otherwise deadlines and errors reporting Timeout() or Temporary()
// are transient and everything else, cancellation included, is permanent.
func Categorize(err error) Category {
	var tagged *CategorizedError
	switch {
	case err == nil:
		return CategoryPermanent
	case errors.As(err, &tagged):
		return tagged.Category
	case errors.Is(err, context.Canceled):
		return CategoryPermanent
	case errors.Is(err, context.DeadlineExceeded), reportsTransient(err):
		return CategoryTransient
	default:
		return CategoryPermanent
	}
}

// reportsTransient checks the Timeout and Temporary conventions used by
// net.Error and friends.
func reportsTransient(err error) bool {
	var t interface{ Timeout() bool }
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	var tmp interface{ Temporary() bool }
	return errors.As(err, &tmp) && tmp.Temporary()
}

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
