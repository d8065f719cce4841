// ABOUTME: Deferred holds a state transition raised mid-operation
// ABOUTME: The transition is applied exactly once, at a completion boundary

package turn

// Deferred buffers a value raised while an operation is in flight so it can be
// applied only once the operation completes. The first Raise wins and Apply
// runs at most once. It is not safe for concurrent use; the owner serializes access.
type Deferred[T any] struct {
	value   T
	raised  bool
	applied bool
}

// Raise records v if nothing has been raised yet. It reports whether v was kept.
func (d *Deferred[T]) Raise(v T) bool {
	if d.raised {
		return false
	}
	d.value = v
	d.raised = true
	return true
}

// Pending returns the raised value if it has not been applied.
func (d *Deferred[T]) Pending() (T, bool) {
	if !d.raised || d.applied {
		var zero T
		return zero, false
	}
	return d.value, true
}

// Apply hands the pending value to fn exactly once. It reports whether fn ran.
func (d *Deferred[T]) Apply(fn func(T)) bool {
	v, ok := d.Pending()
	if !ok {
		return false
	}
	d.applied = true
	fn(v)
	return true
}
