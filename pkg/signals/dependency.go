package signals

import "reflect"

// Dependency is anything a Computed or Effect can declare as an input.
// Watch registers fn for the raw notify event and returns a function that
// removes it.
type Dependency interface {
	ID() string
	Watch(fn func()) (stop func())
}

// Readable is a typed reactive value.
type Readable[T any] interface {
	Dependency
	Value() T
	Subscribe(fn func(T)) (unsubscribe func())
}

var (
	_ Readable[int] = (*Signal[int])(nil)
	_ Readable[int] = (*Computed[int])(nil)
)

// nonNil drops nil entries, including typed nil pointers such as a
// (*Signal[int])(nil) passed through the interface.
func nonNil(deps []Dependency) []Dependency {
	out := make([]Dependency, 0, len(deps))
	for _, dep := range deps {
		if dep == nil {
			continue
		}
		if v := reflect.ValueOf(dep); v.Kind() == reflect.Pointer && v.IsNil() {
			continue
		}
		out = append(out, dep)
	}
	return out
}
