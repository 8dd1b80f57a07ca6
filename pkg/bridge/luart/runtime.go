// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package luart is a bridge.Bridge backed by a gopher-lua state. Target
// programs declare classes from Lua:
//
//	local Account = class("com.example.Account", "com.example.Base")
//	Account:constructor({"java.lang.String"}, function(self, owner) self.owner = owner end)
//	Account:method("deposit", {"int"}, function(self, n) return n end)
//	Account:field("balance", 0)
//
//	local a = new("com.example.Account", "alice")
//	a:deposit(5)
//
// Every method and constructor call goes through a Go dispatcher, which is
// where hooks installed with Replace take effect.
package luart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Defaults for Options.
const (
	DefaultEntrypoint     = "main"
	DefaultClassCacheSize = 512
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("lua runtime is closed")
	// ErrEntrypointNotFound is returned by Run when the global is missing.
	ErrEntrypointNotFound = errors.New("entrypoint not defined")
)

// Options configures a Runtime.
type Options struct {
	// LoadTimeout bounds each script load. Zero means no bound.
	LoadTimeout time.Duration
	// ClassCacheSize bounds the dispatcher cache.
	ClassCacheSize int
}

// Runtime owns one Lua state and the class registry built by the scripts it
// runs.
//
// The Lua state is not goroutine-safe: LoadFile, LoadString, Run and Call
// serialize on execMu. Class metadata and hook slots are guarded by mu, so
// hooking passes may run while a script is executing.
type Runtime struct {
	L      *lua.LState
	logger *zap.Logger
	opts   Options

	execMu sync.Mutex
	closed atomic.Bool

	// active is the state running the innermost hook; only touched by the
	// goroutine holding execMu.
	active *lua.LState

	performMu sync.Mutex

	mu      sync.RWMutex
	classes map[string]*class
	order   []string

	dispatchers *lru.Cache[dispatchKey, *lua.LFunction]
}

// New creates a runtime with the safe subset of the Lua standard library
// and the class API installed.
func New(opts Options, logger *zap.Logger) (*Runtime, error) {
	if opts.ClassCacheSize <= 0 {
		opts.ClassCacheSize = DefaultClassCacheSize
	}
	cache, err := lru.New[dispatchKey, *lua.LFunction](opts.ClassCacheSize)
	if err != nil {
		return nil, fmt.Errorf("dispatcher cache: %w", err)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	if err := openSafeLibraries(L); err != nil {
		L.Close()
		return nil, err
	}

	r := &Runtime{
		L:           L,
		logger:      logger,
		opts:        opts,
		classes:     make(map[string]*class),
		dispatchers: cache,
	}
	r.installAPI()
	return r, nil
}

func openSafeLibraries(L *lua.LState) error {
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return fmt.Errorf("open lua library %s: %w", lib.name, err)
		}
	}
	// Scripts are loaded by the runtime only.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return nil
}

func (r *Runtime) installAPI() {
	mt := r.L.NewTypeMetatable(classTypeName)
	r.L.SetField(mt, "__index", r.L.SetFuncs(r.L.NewTable(), map[string]lua.LGFunction{
		"method":      r.luaMethod,
		"constructor": r.luaConstructor,
		"field":       r.luaField,
		"name":        r.luaClassName,
	}))
	r.L.SetField(mt, "__tostring", r.L.NewFunction(r.luaClassName))

	r.L.SetGlobal("class", r.L.NewFunction(r.luaClass))
	r.L.SetGlobal("new", r.L.NewFunction(r.luaNew))
	r.L.SetGlobal("sleep", r.L.NewFunction(luaSleep))
	r.L.SetGlobal("log", r.L.NewFunction(r.luaLog))
}

// LoadFile executes a Lua file.
func (r *Runtime) LoadFile(ctx context.Context, path string) error {
	return r.load(ctx, func() error { return r.L.DoFile(path) })
}

// LoadString executes a chunk of Lua code.
func (r *Runtime) LoadString(ctx context.Context, code string) error {
	return r.load(ctx, func() error { return r.L.DoString(code) })
}

func (r *Runtime) load(ctx context.Context, fn func() error) error {
	if r.opts.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.LoadTimeout)
		defer cancel()
	}
	return r.exec(ctx, fn)
}

// Run calls the global function entrypoint with no arguments and blocks
// until it returns or ctx is done.
func (r *Runtime) Run(ctx context.Context, entrypoint string) error {
	if entrypoint == "" {
		entrypoint = DefaultEntrypoint
	}
	_, err := r.Call(ctx, entrypoint)
	return err
}

// Call calls a global Lua function and returns its first result.
func (r *Runtime) Call(ctx context.Context, fn string, args ...lua.LValue) (lua.LValue, error) {
	ret := lua.LValue(lua.LNil)
	err := r.exec(ctx, func() error {
		f := r.L.GetGlobal(fn)
		if f == lua.LNil {
			return fmt.Errorf("%s: %w", fn, ErrEntrypointNotFound)
		}
		if f.Type() != lua.LTFunction {
			return fmt.Errorf("%q is not a function (got %s)", fn, f.Type())
		}
		if err := r.L.CallByParam(lua.P{Fn: f, NRet: 1, Protect: true}, args...); err != nil {
			return err
		}
		ret = r.L.Get(-1)
		r.L.Pop(1)
		return nil
	})
	return ret, err
}

// exec runs fn with exclusive access to the Lua state and ctx installed for
// cancellation.
func (r *Runtime) exec(ctx context.Context, fn func() error) (err error) {
	r.execMu.Lock()
	defer r.execMu.Unlock()
	if r.closed.Load() {
		return ErrClosed
	}

	r.L.SetContext(ctx)
	defer r.L.RemoveContext()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("lua panic: %v", rec)
		}
	}()
	return fn()
}

// Close releases the Lua state. Hooks stay registered but the runtime
// reports itself unavailable.
func (r *Runtime) Close() error {
	r.execMu.Lock()
	defer r.execMu.Unlock()
	if r.closed.Load() {
		return nil
	}
	r.closed.Store(true)
	r.L.Close()
	return nil
}

func luaSleep(L *lua.LState) int {
	d := time.Duration(float64(L.CheckNumber(1)) * float64(time.Millisecond))
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		L.RaiseError("sleep interrupted: %v", ctx.Err())
	}
	return 0
}

func (r *Runtime) luaLog(L *lua.LState) int {
	r.logger.Info("script", zap.String("msg", L.CheckString(1)))
	return 0
}
