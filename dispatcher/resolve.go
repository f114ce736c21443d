package dispatcher

import (
	"reflect"
	"time"

	"mini-bridge/codec"
)

// Conversion costs. A member's score is the sum over its arguments; the
// lowest score wins and a tie for lowest is ambiguous.
const (
	costExact      = 0
	costAssignable = 1
	costWiden      = 2
	costContainer  = 3
	costNarrow     = 4
	costVariadic   = 1
)

var (
	dateType = reflect.TypeOf(codec.Date{})
	timeType = reflect.TypeOf(time.Time{})
)

type match struct {
	member *member
	in     []reflect.Value
	cost   int
}

// resolve picks the member whose parameters best fit args. Members with a
// receiver parameter are matched against target followed by args.
func resolve(className, methodName string, members []*member, target any, args []any) (*match, error) {
	var best []*match
	for _, m := range members {
		callArgs := args
		if m.recv {
			callArgs = append([]any{target}, args...)
		}
		in, cost, ok := bind(m, callArgs)
		if !ok {
			continue
		}
		cand := &match{member: m, in: in, cost: cost}
		switch {
		case len(best) == 0 || cost < best[0].cost:
			best = []*match{cand}
		case cost == best[0].cost:
			best = append(best, cand)
		}
	}

	switch len(best) {
	case 0:
		return nil, &NoSuchMethodError{Class: className, Method: methodName, Args: args, Candidates: len(members)}
	case 1:
		return best[0], nil
	}
	sigs := make([]string, len(best))
	for i, c := range best {
		sigs[i] = c.member.signature()
	}
	return nil, &AmbiguousMethodError{Class: className, Method: methodName, Candidates: sigs}
}

// bind converts args to the member's parameter types.
func bind(m *member, args []any) ([]reflect.Value, int, bool) {
	fixed := len(m.params)
	variadic := m.typ.IsVariadic()
	if variadic {
		fixed--
		if len(args) < fixed {
			return nil, 0, false
		}
	} else if len(args) != fixed {
		return nil, 0, false
	}

	in := make([]reflect.Value, len(args))
	total := 0
	for i, arg := range args {
		var to reflect.Type
		if i < fixed {
			to = m.params[i]
		} else {
			to = m.params[fixed].Elem()
			total += costVariadic
		}
		v, cost, ok := convert(arg, to)
		if !ok {
			return nil, 0, false
		}
		in[i] = v
		total += cost
	}
	return in, total, true
}

func nillable(k reflect.Kind) bool {
	switch k {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func signedInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func unsignedInt(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func float(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// convert returns arg as a value of type to together with its cost.
func convert(arg any, to reflect.Type) (reflect.Value, int, bool) {
	if arg == nil {
		if nillable(to.Kind()) {
			return reflect.Zero(to), costAssignable, true
		}
		return reflect.Value{}, 0, false
	}

	v := reflect.ValueOf(arg)
	from := v.Type()
	if from == to {
		return v, costExact, true
	}
	if from.AssignableTo(to) {
		out := reflect.New(to).Elem()
		out.Set(v)
		return out, costAssignable, true
	}

	fk, tk := from.Kind(), to.Kind()
	switch {
	case signedInt(fk) && signedInt(tk):
		if to.Bits() >= from.Bits() {
			return v.Convert(to), costWiden, true
		}
		if !reflect.Zero(to).OverflowInt(v.Int()) {
			return v.Convert(to), costNarrow, true
		}
	case signedInt(fk) && unsignedInt(tk):
		if v.Int() >= 0 && !reflect.Zero(to).OverflowUint(uint64(v.Int())) {
			return v.Convert(to), costNarrow, true
		}
	case signedInt(fk) && float(tk):
		return v.Convert(to), costContainer, true
	case float(fk) && float(tk):
		if to.Bits() >= from.Bits() {
			return v.Convert(to), costWiden, true
		}
		if !reflect.Zero(to).OverflowFloat(v.Float()) {
			return v.Convert(to), costContainer, true
		}
	case from == dateType && to == timeType:
		return reflect.ValueOf(arg.(codec.Date).Time()), costWiden, true
	case fk == tk && (fk == reflect.String || fk == reflect.Bool) && from.ConvertibleTo(to):
		return v.Convert(to), costWiden, true
	case (fk == reflect.Slice || fk == reflect.Array) && tk == reflect.Slice:
		return convertSlice(v, to)
	case fk == reflect.Map && tk == reflect.Map:
		return convertMap(v, to)
	}
	return reflect.Value{}, 0, false
}

func convertSlice(v reflect.Value, to reflect.Type) (reflect.Value, int, bool) {
	out := reflect.MakeSlice(to, v.Len(), v.Len())
	for i := 0; i < v.Len(); i++ {
		elem, _, ok := convert(v.Index(i).Interface(), to.Elem())
		if !ok {
			return reflect.Value{}, 0, false
		}
		out.Index(i).Set(elem)
	}
	return out, costContainer, true
}

func convertMap(v reflect.Value, to reflect.Type) (reflect.Value, int, bool) {
	out := reflect.MakeMapWithSize(to, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k, _, ok := convert(iter.Key().Interface(), to.Key())
		if !ok {
			return reflect.Value{}, 0, false
		}
		e, _, ok := convert(iter.Value().Interface(), to.Elem())
		if !ok {
			return reflect.Value{}, 0, false
		}
		out.SetMapIndex(k, e)
	}
	return out, costContainer, true
}
