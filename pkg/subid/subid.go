// Package subid is the subscription-id collaborator spec.md §1(b)
// references only at its interface: a comparable identifier for a
// registered callback, with a null value, used by C6 to tag dispatched
// invocations for log correlation. Modeled on
// original_source/src/task/Subscription.hpp's SubscriptionId at the
// interface level (comparable, has Null()) — its pointer/classname/hash
// machinery doesn't translate to Go and isn't needed, since the core
// only ever compares IDs for equality or logs them.
package subid

import "sync/atomic"

// ID identifies one registered callback invocation for log correlation.
// The zero value is Null.
type ID uint64

// Null is the sentinel subscription id: "this callback was never
// explicitly subscribed and cannot be unsubscribed."
func Null() ID { return 0 }

func (id ID) IsNull() bool { return id == 0 }

var counter uint64

// New allocates a fresh, process-unique, non-null ID.
func New() ID {
	return ID(atomic.AddUint64(&counter, 1))
}
