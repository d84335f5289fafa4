package flow

import "fmt"

// Map applies fn to every record, 1-to-1, order-preserving.
func Map[In, Out any](name string, in *Channel[In], fn func(In) Out) *Channel[Out] {
	src := in.Subscribe()
	out := NewChannel[Out](name)
	go func() {
		defer out.Close()
		for rec := range src {
			out.Emit(fn(rec))
		}
	}()
	return out
}

// Filter keeps records for which keep returns true, order-preserving.
func Filter[T any](name string, in *Channel[T], keep func(T) bool) *Channel[T] {
	src := in.Subscribe()
	out := NewChannel[T](name)
	go func() {
		defer out.Close()
		for rec := range src {
			if keep(rec) {
				out.Emit(rec)
			}
		}
	}()
	return out
}

// Unique drops records whose key has been seen before. First occurrence
// wins; arrival order decides which record that is.
func Unique[T any, K comparable](name string, in *Channel[T], key func(T) K) *Channel[T] {
	src := in.Subscribe()
	out := NewChannel[T](name)
	go func() {
		defer out.Close()
		seen := make(map[K]struct{})
		for rec := range src {
			k := key(rec)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out.Emit(rec)
		}
	}()
	return out
}

// Group is one bucket produced by GroupTuple: the key plus every record
// that carried it, in arrival order.
type Group[K comparable, T any] struct {
	Key   K
	Items []T
}

// GroupTuple materializes the whole channel, buckets records by key and
// emits one Group per distinct key, in first-seen key order.
func GroupTuple[T any, K comparable](name string, in *Channel[T], key func(T) K) *Channel[Group[K, T]] {
	src := in.Subscribe()
	out := NewChannel[Group[K, T]](name)
	go func() {
		defer out.Close()
		var order []K
		buckets := make(map[K][]T)
		for rec := range src {
			k := key(rec)
			if _, ok := buckets[k]; !ok {
				order = append(order, k)
			}
			buckets[k] = append(buckets[k], rec)
		}
		for _, k := range order {
			out.Emit(Group[K, T]{Key: k, Items: buckets[k]})
		}
	}()
	return out
}

// Transpose is the inverse of GroupTuple: each grouped record is exploded
// back into its member records, group order preserved.
func Transpose[K comparable, T any](name string, in *Channel[Group[K, T]]) *Channel[T] {
	src := in.Subscribe()
	out := NewChannel[T](name)
	go func() {
		defer out.Close()
		for g := range src {
			for _, item := range g.Items {
				out.Emit(item)
			}
		}
	}()
	return out
}

// Explode emits the records produced by fn for each input record. fn may
// reject a record (mismatched parallel list lengths is the canonical
// case); that is a fatal wiring error reported through fail, after which
// the remaining input is drained without further emission.
func Explode[In, Out any](name string, in *Channel[In], fn func(In) ([]Out, error), fail func(error)) *Channel[Out] {
	src := in.Subscribe()
	out := NewChannel[Out](name)
	go func() {
		defer out.Close()
		failed := false
		for rec := range src {
			if failed {
				continue
			}
			items, err := fn(rec)
			if err != nil {
				failed = true
				fail(fmt.Errorf("flow: explode %q: %w", name, err))
				continue
			}
			for _, item := range items {
				out.Emit(item)
			}
		}
	}()
	return out
}

// Pair is the output shape of Join, Combine and Cross.
type Pair[A, B any] struct {
	Left  A
	Right B
}

// Join materializes both sides and emits one Pair per key present on
// both. Keys missing from either side are dropped without error; callers
// that must not lose keys check cardinality downstream. When a side
// carries duplicate keys the first record wins. Output order follows the
// left side's first-seen key order, which keeps runs reproducible.
func Join[A, B any, K comparable](name string, left *Channel[A], right *Channel[B], leftKey func(A) K, rightKey func(B) K) *Channel[Pair[A, B]] {
	lsrc := left.Subscribe()
	rsrc := right.Subscribe()
	out := NewChannel[Pair[A, B]](name)
	go func() {
		defer out.Close()
		var order []K
		ls := make(map[K]A)
		for rec := range lsrc {
			k := leftKey(rec)
			if _, ok := ls[k]; ok {
				continue
			}
			ls[k] = rec
			order = append(order, k)
		}
		rs := make(map[K]B)
		for rec := range rsrc {
			k := rightKey(rec)
			if _, ok := rs[k]; ok {
				continue
			}
			rs[k] = rec
		}
		for _, k := range order {
			r, ok := rs[k]
			if !ok {
				continue
			}
			out.Emit(Pair[A, B]{Left: ls[k], Right: r})
		}
	}()
	return out
}

// Combine materializes the right side, then pairs every left record with
// every right record sharing its key, streaming in left arrival order.
func Combine[A, B any, K comparable](name string, left *Channel[A], right *Channel[B], leftKey func(A) K, rightKey func(B) K) *Channel[Pair[A, B]] {
	lsrc := left.Subscribe()
	rsrc := right.Subscribe()
	out := NewChannel[Pair[A, B]](name)
	go func() {
		defer out.Close()
		rs := make(map[K][]B)
		for rec := range rsrc {
			k := rightKey(rec)
			rs[k] = append(rs[k], rec)
		}
		for rec := range lsrc {
			for _, r := range rs[leftKey(rec)] {
				out.Emit(Pair[A, B]{Left: rec, Right: r})
			}
		}
	}()
	return out
}

// Cross pairs every stream record with the singleton carried by a value
// channel. This is how configuration-like inputs are broadcast to every
// element of a stream.
func Cross[A, B any](name string, in *Channel[A], v *Value[B]) *Channel[Pair[A, B]] {
	src := in.Subscribe()
	out := NewChannel[Pair[A, B]](name)
	go func() {
		defer out.Close()
		val := v.Get()
		for rec := range src {
			out.Emit(Pair[A, B]{Left: rec, Right: val})
		}
	}()
	return out
}

// Mix interleaves multiple channels into one. Each source's internal
// order is preserved; no order is guaranteed across sources.
func Mix[T any](name string, ins ...*Channel[T]) *Channel[T] {
	srcs := make([]<-chan T, len(ins))
	for i, in := range ins {
		srcs[i] = in.Subscribe()
	}
	out := NewChannel[T](name)
	merged := make(chan T)
	go func() {
		done := make(chan struct{}, len(srcs))
		for _, src := range srcs {
			go func(src <-chan T) {
				for rec := range src {
					merged <- rec
				}
				done <- struct{}{}
			}(src)
		}
		for range srcs {
			<-done
		}
		close(merged)
	}()
	go func() {
		defer out.Close()
		for rec := range merged {
			out.Emit(rec)
		}
	}()
	return out
}

// Concat drains each channel fully, in argument order, into one output.
func Concat[T any](name string, ins ...*Channel[T]) *Channel[T] {
	srcs := make([]<-chan T, len(ins))
	for i, in := range ins {
		srcs[i] = in.Subscribe()
	}
	out := NewChannel[T](name)
	go func() {
		defer out.Close()
		for _, src := range srcs {
			for rec := range src {
				out.Emit(rec)
			}
		}
	}()
	return out
}

// ToList materializes the entire channel into a single record holding
// every element in arrival order, emitted once the source closes.
func ToList[T any](name string, in *Channel[T]) *Channel[[]T] {
	src := in.Subscribe()
	out := NewChannel[[]T](name)
	go func() {
		defer out.Close()
		var all []T
		for rec := range src {
			all = append(all, rec)
		}
		out.Emit(all)
	}()
	return out
}

// Sink subscribes immediately and collects everything the channel emits.
// Subscribing at construction keeps the fan-out declaration at wiring
// time; Wait blocks until the channel closes.
type Sink[T any] struct {
	src <-chan T
}

// NewSink wires a collecting outlet onto a channel.
func NewSink[T any](in *Channel[T]) *Sink[T] {
	return &Sink[T]{src: in.Subscribe()}
}

// Wait drains the outlet to completion and returns every record seen, in
// emission order.
func (s *Sink[T]) Wait() []T {
	var all []T
	for rec := range s.src {
		all = append(all, rec)
	}
	return all
}
