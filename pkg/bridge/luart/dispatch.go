// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package luart

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/postgor/android-trace/pkg/bridge"
)

type dispatchKey struct {
	class  string
	member string
}

// dispatcher returns the Lua function bound to class.member. Dispatchers
// look overloads and hook slots up on every call, so cached entries never go
// stale.
func (r *Runtime) dispatcher(L *lua.LState, className, member string) *lua.LFunction {
	key := dispatchKey{class: className, member: member}
	if fn, ok := r.dispatchers.Get(key); ok {
		return fn
	}
	fn := L.NewFunction(func(L *lua.LState) int {
		receiver := L.Get(1)
		args := collectArgs(L, 2)

		r.mu.RLock()
		var ovs []*overload
		if c := r.classes[className]; c != nil {
			ovs = append(ovs, c.lookupMethod(member)...)
		}
		r.mu.RUnlock()

		ov, err := selectOverload(ovs, args)
		if err != nil {
			L.RaiseError("%s.%s: %v", className, member, err)
			return 0
		}
		ret, err := r.call(L, ov, receiver, args)
		if err != nil {
			raise(L, err)
			return 0
		}
		L.Push(ret)
		return 1
	})
	r.dispatchers.Add(key, fn)
	return fn
}

// call runs the hook installed on ov, or the original implementation when
// there is none.
func (r *Runtime) call(L *lua.LState, ov *overload, receiver lua.LValue, args []lua.LValue) (lua.LValue, error) {
	r.mu.RLock()
	hook := ov.hook
	r.mu.RUnlock()

	if hook == nil {
		return invoke(L, ov.fn, receiver, args)
	}
	anyArgs := make([]any, len(args))
	for i, a := range args {
		anyArgs[i] = a
	}

	ret, err := r.runHook(L, hook, bridge.Call{Receiver: receiver, Args: anyArgs})
	if err != nil {
		return lua.LNil, err
	}
	return toLValue(L, ret), nil
}

func (r *Runtime) runHook(L *lua.LState, hook bridge.Wrapper, call bridge.Call) (any, error) {
	prev := r.active
	r.active = L
	defer func() { r.active = prev }()
	return hook(call)
}

func invoke(L *lua.LState, fn *lua.LFunction, receiver lua.LValue, args []lua.LValue) (lua.LValue, error) {
	params := make([]lua.LValue, 0, len(args)+1)
	params = append(params, receiver)
	params = append(params, args...)
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, params...); err != nil {
		return lua.LNil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

// raise rethrows err into Lua. Errors raised by Lua code keep their
// original error object.
func raise(L *lua.LState, err error) {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		L.Error(apiErr.Object, 0)
		return
	}
	L.RaiseError("%s", err.Error())
}

func collectArgs(L *lua.LState, from int) []lua.LValue {
	top := L.GetTop()
	if top < from {
		return nil
	}
	args := make([]lua.LValue, 0, top-from+1)
	for i := from; i <= top; i++ {
		args = append(args, L.Get(i))
	}
	return args
}

// selectOverload picks by arity first. Among overloads of equal arity the
// first whose parameter types accept the arguments wins, preferring strict
// matches where reference types reject primitives.
func selectOverload(ovs []*overload, args []lua.LValue) (*overload, error) {
	var candidates []*overload
	for _, o := range ovs {
		if len(o.sig) == len(args) {
			candidates = append(candidates, o)
		}
	}
	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("no overload takes %d arguments", len(args))
	case 1:
		return candidates[0], nil
	}
	for _, strict := range []bool{true, false} {
		for _, o := range candidates {
			if accepts(o.sig, args, strict) {
				return o, nil
			}
		}
	}
	return nil, fmt.Errorf("no overload of arity %d matches the argument types", len(args))
}

func accepts(sig bridge.Signature, args []lua.LValue, strict bool) bool {
	for i, t := range sig {
		if !compatible(t, args[i], strict) {
			return false
		}
	}
	return true
}

func compatible(typeName string, v lua.LValue, strict bool) bool {
	switch typeName {
	case "byte", "short", "int", "long", "float", "double",
		"java.lang.Byte", "java.lang.Short", "java.lang.Integer",
		"java.lang.Long", "java.lang.Float", "java.lang.Double":
		return v.Type() == lua.LTNumber
	case "boolean", "java.lang.Boolean":
		return v.Type() == lua.LTBool
	case "char", "java.lang.String", "java.lang.CharSequence":
		return v.Type() == lua.LTString
	}
	if !strict {
		return true
	}
	switch v.Type() {
	case lua.LTTable, lua.LTUserData, lua.LTNil, lua.LTFunction:
		return true
	}
	return false
}

// toLValue converts a wrapper's return value back into Lua.
func toLValue(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	default:
		ud := L.NewUserData()
		ud.Value = v
		return ud
	}
}
