package sandbox

import (
	"strconv"

	"github.com/dop251/goja"
	"github.com/vango-dev/sigsync/pkg/signals"
)

// jsSignal implements signal(initial, id?). An id the script already
// declared, or one a replica holds, gives back that signal and initial is
// ignored, so a script never overwrites a value the host announced.
func (s *Sandbox) jsSignal(call goja.FunctionCall) goja.Value {
	initial, id := call.Argument(0), call.Argument(1)
	if goja.IsUndefined(id) || goja.IsNull(id) {
		return s.signalObject(s.track(signals.NewSignal[any](s.sc, export(initial))))
	}
	if sig, ok := s.lookup(id.String()); ok {
		return s.signalObject(sig)
	}
	sig := signals.NewSignal[any](s.sc, export(initial), signals.WithID(id.String()))
	return s.signalObject(s.track(sig))
}

// jsRemote implements remote(id): the signal announced under id, or null
// when nothing with that id has arrived yet.
func (s *Sandbox) jsRemote(call goja.FunctionCall) goja.Value {
	sig, ok := s.lookup(call.Argument(0).String())
	if !ok {
		return goja.Null()
	}
	return s.signalObject(sig)
}

func (s *Sandbox) lookup(id string) (*signals.Signal[any], bool) {
	if sig, ok := s.deps[id].(*signals.Signal[any]); ok {
		return sig, true
	}
	if r, ok := s.sc.Replica(id); ok {
		return s.track(r), true
	}
	return nil, false
}

func (s *Sandbox) track(sig *signals.Signal[any]) *signals.Signal[any] {
	s.deps[sig.ID()] = sig
	return sig
}

func (s *Sandbox) signalObject(sig *signals.Signal[any]) *goja.Object {
	obj := s.cellObject(sig.ID(), sig.Subscribe)
	obj.DefineAccessorProperty("value",
		s.vm.ToValue(func(goja.FunctionCall) goja.Value { return s.vm.ToValue(sig.Value()) }),
		s.vm.ToValue(func(c goja.FunctionCall) goja.Value {
			sig.Set(export(c.Argument(0)))
			return goja.Undefined()
		}),
		goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.Set("close", func(goja.FunctionCall) goja.Value {
		sig.Close()
		delete(s.deps, sig.ID())
		return goja.Undefined()
	})
	return obj
}

// jsComputed implements computed(fn, deps).
func (s *Sandbox) jsComputed(call goja.FunctionCall) goja.Value {
	fn := s.callable(call.Argument(0), "computed")
	deps := s.resolveDeps(call.Argument(1))

	c := signals.NewComputed(s.sc, func() any {
		v, err := fn(goja.Undefined())
		if err != nil {
			panic(err)
		}
		return export(v)
	}, deps...)
	s.deps[c.ID()] = c

	obj := s.cellObject(c.ID(), c.Subscribe)
	obj.DefineAccessorProperty("value",
		s.vm.ToValue(func(goja.FunctionCall) goja.Value { return s.vm.ToValue(c.Value()) }),
		s.vm.ToValue(func(goja.FunctionCall) goja.Value {
			s.logger.Warn("computed value is read-only, write ignored", "computed_id", c.ID())
			return goja.Undefined()
		}),
		goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.Set("dispose", func(goja.FunctionCall) goja.Value {
		c.Dispose()
		delete(s.deps, c.ID())
		return goja.Undefined()
	})
	return obj
}

// jsEffect implements effect(fn, deps). Missing deps throw a TypeError.
func (s *Sandbox) jsEffect(call goja.FunctionCall) goja.Value {
	fn := s.callable(call.Argument(0), "effect")
	deps := s.resolveDeps(call.Argument(1))

	e, err := signals.NewEffect(s.sc, func() {
		if _, err := fn(goja.Undefined()); err != nil {
			panic(err)
		}
	}, deps...)
	if err != nil {
		panic(s.vm.NewTypeError(err.Error()))
	}

	obj := s.vm.NewObject()
	obj.DefineDataProperty("id", s.vm.ToValue(e.ID()), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.Set("dispose", func(goja.FunctionCall) goja.Value {
		e.Dispose()
		return goja.Undefined()
	})
	return obj
}

// cellObject builds the shared part of signal and computed objects.
func (s *Sandbox) cellObject(id string, subscribe func(func(any)) func()) *goja.Object {
	obj := s.vm.NewObject()
	obj.DefineDataProperty("id", s.vm.ToValue(id), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.Set("subscribe", func(call goja.FunctionCall) goja.Value {
		fn := s.callable(call.Argument(0), "subscribe")
		unsubscribe := subscribe(func(v any) {
			if _, err := fn(goja.Undefined(), s.vm.ToValue(v)); err != nil {
				panic(err)
			}
		})
		return s.vm.ToValue(func(goja.FunctionCall) goja.Value {
			unsubscribe()
			return goja.Undefined()
		})
	})
	return obj
}

func (s *Sandbox) callable(v goja.Value, what string) goja.Callable {
	fn, ok := goja.AssertFunction(v)
	if !ok {
		panic(s.vm.NewTypeError(what + ": first argument must be a function"))
	}
	return fn
}

// resolveDeps maps a JS array of signal/computed objects to dependencies.
func (s *Sandbox) resolveDeps(v goja.Value) []signals.Dependency {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	arr, ok := v.(*goja.Object)
	if !ok {
		panic(s.vm.NewTypeError("dependencies must be an array"))
	}

	length := arr.Get("length")
	if length == nil {
		panic(s.vm.NewTypeError("dependencies must be an array"))
	}

	n := int(length.ToInteger())
	deps := make([]signals.Dependency, 0, n)
	for i := 0; i < n; i++ {
		obj, ok := arr.Get(strconv.Itoa(i)).(*goja.Object)
		if !ok {
			panic(s.vm.NewTypeError("dependency must be a signal or computed"))
		}
		id := obj.Get("id")
		if id == nil {
			panic(s.vm.NewTypeError("dependency must be a signal or computed"))
		}
		dep, ok := s.deps[id.String()]
		if !ok {
			panic(s.vm.NewTypeError("unknown dependency " + id.String()))
		}
		deps = append(deps, dep)
	}
	return deps
}
