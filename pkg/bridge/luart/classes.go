// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package luart

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/postgor/android-trace/pkg/bridge"
)

const classTypeName = "luart.class"

type overload struct {
	sig  bridge.Signature
	fn   *lua.LFunction
	hook bridge.Wrapper
}

type class struct {
	name   string
	parent *class

	ctors   []*overload
	order   []string
	methods map[string][]*overload
	fields  map[string]lua.LValue

	// instance metatable
	mt *lua.LTable
}

func (c *class) declares(name string) bool {
	if _, ok := c.methods[name]; ok {
		return true
	}
	_, ok := c.fields[name]
	return ok
}

// lookupMethod returns the overloads of name from the nearest class in the
// chain that declares it. Callers hold r.mu.
func (c *class) lookupMethod(name string) []*overload {
	for k := c; k != nil; k = k.parent {
		if ovs, ok := k.methods[name]; ok {
			return ovs
		}
	}
	return nil
}

func (c *class) overloads(member string) []*overload {
	if member == bridge.ConstructorMember {
		return c.ctors
	}
	return c.lookupMethod(member)
}

func reservedName(name string) bool {
	switch name {
	case bridge.ClassNameMarker, bridge.ConstructorMarker, bridge.ConstructorMember, "":
		return true
	}
	return false
}

// class(name [, parent]) declares a class and returns its handle.
func (r *Runtime) luaClass(L *lua.LState) int {
	name := L.CheckString(1)
	if reservedName(name) {
		L.ArgError(1, "invalid class name")
	}

	var parentName string
	switch p := L.Get(2).(type) {
	case lua.LString:
		parentName = string(p)
	case *lua.LUserData:
		pc, ok := p.Value.(*class)
		if !ok {
			L.ArgError(2, "class expected")
		}
		parentName = pc.name
	case *lua.LNilType:
	default:
		L.ArgError(2, "class name or class expected")
	}

	r.mu.Lock()
	if _, exists := r.classes[name]; exists {
		r.mu.Unlock()
		L.RaiseError("class %s already defined", name)
		return 0
	}
	var parent *class
	if parentName != "" {
		parent = r.classes[parentName]
		if parent == nil {
			r.mu.Unlock()
			L.RaiseError("class %s: parent %s not defined", name, parentName)
			return 0
		}
	}
	c := &class{
		name:    name,
		parent:  parent,
		methods: make(map[string][]*overload),
		fields:  make(map[string]lua.LValue),
	}
	c.mt = r.instanceMetatable(L, c)
	r.classes[name] = c
	r.order = append(r.order, name)
	r.mu.Unlock()

	r.logger.Debug("class defined", zap.String("class", name), zap.String("parent", parentName))
	L.Push(r.classValue(L, c))
	return 1
}

func (r *Runtime) classValue(L *lua.LState, c *class) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = c
	L.SetMetatable(ud, L.GetTypeMetatable(classTypeName))
	return ud
}

func checkClass(L *lua.LState) *class {
	ud := L.CheckUserData(1)
	c, ok := ud.Value.(*class)
	if !ok {
		L.ArgError(1, "class expected")
	}
	return c
}

func checkSignature(L *lua.LState, n int) bridge.Signature {
	tbl := L.OptTable(n, nil)
	if tbl == nil {
		return bridge.Signature{}
	}
	sig := make(bridge.Signature, 0, tbl.Len())
	for i := 1; i <= tbl.Len(); i++ {
		s, ok := tbl.RawGetInt(i).(lua.LString)
		if !ok || s == "" {
			L.ArgError(n, fmt.Sprintf("parameter type %d must be a non-empty string", i))
		}
		sig = append(sig, string(s))
	}
	return sig
}

func hasSignature(ovs []*overload, sig bridge.Signature) bool {
	for _, o := range ovs {
		if o.sig.Equal(sig) {
			return true
		}
	}
	return false
}

// C:method(name, {types...}, fn)
func (r *Runtime) luaMethod(L *lua.LState) int {
	c := checkClass(L)
	name := L.CheckString(2)
	sig := checkSignature(L, 3)
	fn := L.CheckFunction(4)
	if reservedName(name) {
		L.ArgError(2, "reserved member name")
	}

	r.mu.Lock()
	if _, isField := c.fields[name]; isField {
		r.mu.Unlock()
		L.RaiseError("%s.%s is already a field", c.name, name)
		return 0
	}
	if hasSignature(c.methods[name], sig) {
		r.mu.Unlock()
		L.RaiseError("%s.%s%s already defined", c.name, name, sig)
		return 0
	}
	if !c.declares(name) {
		c.order = append(c.order, name)
	}
	c.methods[name] = append(c.methods[name], &overload{sig: sig, fn: fn})
	r.mu.Unlock()

	L.Push(L.Get(1))
	return 1
}

// C:constructor({types...}, fn)
func (r *Runtime) luaConstructor(L *lua.LState) int {
	c := checkClass(L)
	sig := checkSignature(L, 2)
	fn := L.CheckFunction(3)

	r.mu.Lock()
	if hasSignature(c.ctors, sig) {
		r.mu.Unlock()
		L.RaiseError("%s constructor%s already defined", c.name, sig)
		return 0
	}
	c.ctors = append(c.ctors, &overload{sig: sig, fn: fn})
	r.mu.Unlock()

	L.Push(L.Get(1))
	return 1
}

// C:field(name, default)
func (r *Runtime) luaField(L *lua.LState) int {
	c := checkClass(L)
	name := L.CheckString(2)
	if reservedName(name) {
		L.ArgError(2, "reserved member name")
	}

	r.mu.Lock()
	if _, isMethod := c.methods[name]; isMethod {
		r.mu.Unlock()
		L.RaiseError("%s.%s is already a method", c.name, name)
		return 0
	}
	if !c.declares(name) {
		c.order = append(c.order, name)
	}
	c.fields[name] = L.Get(3)
	r.mu.Unlock()

	L.Push(L.Get(1))
	return 1
}

func (r *Runtime) luaClassName(L *lua.LState) int {
	L.Push(lua.LString(checkClass(L).name))
	return 1
}

// new(className, args...) creates an instance, copies field defaults from
// the class chain and runs the matching constructor.
func (r *Runtime) luaNew(L *lua.LState) int {
	name := L.CheckString(1)

	r.mu.RLock()
	c := r.classes[name]
	var chain []*class
	for k := c; k != nil; k = k.parent {
		chain = append(chain, k)
	}
	defaults := make(map[string]lua.LValue)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].fields {
			defaults[k] = v
		}
	}
	var ctors []*overload
	if c != nil {
		ctors = append(ctors, c.ctors...)
	}
	r.mu.RUnlock()

	if c == nil {
		L.RaiseError("new: class %s not found", name)
		return 0
	}

	self := L.NewTable()
	for k, v := range defaults {
		self.RawSetString(k, v)
	}
	L.SetMetatable(self, c.mt)

	args := collectArgs(L, 2)
	if len(ctors) == 0 {
		if len(args) > 0 {
			L.RaiseError("new %s: class has no constructor taking %d arguments", name, len(args))
		}
		L.Push(self)
		return 1
	}

	ov, err := selectOverload(ctors, args)
	if err != nil {
		L.RaiseError("new %s: %v", name, err)
		return 0
	}
	if _, err := r.call(L, ov, self, args); err != nil {
		raise(L, err)
		return 0
	}
	L.Push(self)
	return 1
}

// instanceMetatable resolves methods through the class chain. Fields live
// in the instance table itself.
func (r *Runtime) instanceMetatable(L *lua.LState, c *class) *lua.LTable {
	mt := L.NewTable()
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		key, ok := L.Get(2).(lua.LString)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		member := string(key)
		r.mu.RLock()
		callable := c.lookupMethod(member) != nil
		r.mu.RUnlock()
		if !callable {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(r.dispatcher(L, c.name, member))
		return 1
	}))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(fmt.Sprintf("%s@%p", c.name, L.CheckTable(1))))
		return 1
	}))
	L.SetField(mt, "__name", lua.LString(c.name))
	return mt
}
