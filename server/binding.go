package server

import (
	"context"
	"reflect"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"

	"mini-binder/codec"
	"mini-binder/descriptor"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// boundMethod ties a descriptor entry to a Go method of the implementation.
type boundMethod struct {
	desc        *descriptor.Method
	fn          reflect.Value // method value, receiver already bound
	wantsCtx    bool
	paramTypes  []reflect.Type // value type of each parameter (pointee for in-out)
	returnsData bool
}

// goName maps a wire method name to its Go method name: getPid → GetPid.
func goName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}

// goType returns the Go type a value of shape s decodes to.
func goType(s codec.Shape) (reflect.Type, error) {
	switch s.Kind {
	case codec.KindInt32:
		return reflect.TypeOf(int32(0)), nil
	case codec.KindInt64:
		return reflect.TypeOf(int64(0)), nil
	case codec.KindBool:
		return reflect.TypeOf(false), nil
	case codec.KindFloat32:
		return reflect.TypeOf(float32(0)), nil
	case codec.KindFloat64:
		return reflect.TypeOf(float64(0)), nil
	case codec.KindText:
		return reflect.TypeOf(""), nil
	case codec.KindRecord:
		// Build a zero record to learn its concrete type.
		zero := make([]any, len(s.Record.Fields))
		for i, f := range s.Record.Fields {
			t, err := goType(f.Shape)
			if err != nil {
				return nil, err
			}
			zero[i] = reflect.Zero(t).Interface()
		}
		r, err := s.Record.Build(zero)
		if err != nil {
			return nil, errors.Wrapf(err, "build zero %s", s.Record.Name)
		}
		return reflect.TypeOf(r), nil
	}
	return nil, errors.Errorf("shape %v has no Go type", s)
}

// bindMethods checks that impl has a method for every entry of desc with a
// matching signature. For a method declared as
//
//	addRectInOut(inout Rect r) -> none
//
// impl must have
//
//	AddRectInOut(r *rect.Rect) error
//
// optionally preceded by a context.Context parameter. In parameters are
// passed by value, in-out parameters by pointer, and a non-void method
// returns (T, error).
func bindMethods(desc *descriptor.Interface, impl any) (map[uint32]*boundMethod, error) {
	rv := reflect.ValueOf(impl)
	if !rv.IsValid() {
		return nil, errors.New("nil implementation")
	}

	methods := make(map[uint32]*boundMethod)
	for _, m := range desc.Methods() {
		fn := rv.MethodByName(goName(m.Name))
		if !fn.IsValid() {
			return nil, errors.Errorf("%T has no method %s for %s", impl, goName(m.Name), m.Name)
		}
		bm, err := bindMethod(m, fn)
		if err != nil {
			return nil, errors.Wrapf(err, "%T.%s", impl, goName(m.Name))
		}
		methods[m.ID] = bm
	}
	return methods, nil
}

func bindMethod(m *descriptor.Method, fn reflect.Value) (*boundMethod, error) {
	ft := fn.Type()
	bm := &boundMethod{desc: m, fn: fn}

	offset := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		bm.wantsCtx = true
		offset = 1
	}
	if ft.NumIn()-offset != len(m.Params) {
		return nil, errors.Errorf("takes %d parameters, descriptor declares %d", ft.NumIn()-offset, len(m.Params))
	}
	for i, p := range m.Params {
		t, err := goType(p.Shape)
		if err != nil {
			return nil, err
		}
		want := t
		if p.Dir == descriptor.InOut {
			want = reflect.PointerTo(t)
		}
		if got := ft.In(i + offset); got != want {
			return nil, errors.Errorf("parameter %s is %v, want %v", p.Name, got, want)
		}
		bm.paramTypes = append(bm.paramTypes, t)
	}

	if m.Return.Kind == codec.KindNone {
		if ft.NumOut() != 1 || ft.Out(0) != errorType {
			return nil, errors.Errorf("must return error")
		}
		return bm, nil
	}
	rt, err := goType(m.Return)
	if err != nil {
		return nil, err
	}
	if ft.NumOut() != 2 || ft.Out(0) != rt || ft.Out(1) != errorType {
		return nil, errors.Errorf("must return (%v, error)", rt)
	}
	bm.returnsData = true
	return bm, nil
}

// call invokes the method with decoded arguments. It returns the result
// (nil for void methods) and the final values of the in-out parameters.
func (bm *boundMethod) call(ctx context.Context, args []any) (any, []any, error) {
	in := make([]reflect.Value, 0, len(args)+1)
	if bm.wantsCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	var ptrs []reflect.Value
	for i, p := range bm.desc.Params {
		v := reflect.ValueOf(args[i])
		if p.Dir == descriptor.InOut {
			ptr := reflect.New(bm.paramTypes[i])
			ptr.Elem().Set(v)
			ptrs = append(ptrs, ptr)
			v = ptr
		}
		in = append(in, v)
	}

	out := bm.fn.Call(in)
	if errv := out[len(out)-1]; !errv.IsNil() {
		return nil, nil, errv.Interface().(error)
	}

	var ret any
	if bm.returnsData {
		ret = out[0].Interface()
	}
	inout := make([]any, len(ptrs))
	for i, ptr := range ptrs {
		inout[i] = ptr.Elem().Interface()
	}
	return ret, inout, nil
}
