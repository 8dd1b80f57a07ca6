// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package control

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/postgor/android-trace/pkg/bridge"
	"github.com/postgor/android-trace/pkg/bridge/bridgetest"
	"go.uber.org/zap"
)

// startServer uses a short temp dir: unix socket paths are length-limited.
func startServer(t *testing.T, b *bridgetest.Bridge) (*Client, *bridgetest.Bridge) {
	t.Helper()
	dir, err := os.MkdirTemp("", "atrace")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, _, _ := newTestSurface(b)
	srv := NewServer(filepath.Join(dir, "control.sock"), s, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		srv.Stop()
	})

	c, err := Dial(filepath.Join(dir, "control.sock"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, b
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestServerFilterCommands(t *testing.T) {
	c, _ := startServer(t, bridgetest.New())
	ctx := testCtx(t)

	if err := c.SetInclusionFilter(ctx, "^deposit$"); err != nil {
		t.Fatalf("SetInclusionFilter: %v", err)
	}
	if err := c.SetExclusionFilter(ctx, "^withdraw$"); err != nil {
		t.Fatalf("SetExclusionFilter: %v", err)
	}

	resp, err := c.Filters(ctx)
	if err != nil {
		t.Fatalf("Filters: %v", err)
	}
	if resp.Include != "^deposit$" || resp.Exclude != "^withdraw$" || !resp.ExcludeActive {
		t.Errorf("unexpected filters: %+v", resp)
	}

	err = c.SetInclusionFilter(ctx, "(")
	if err == nil || !strings.Contains(err.Error(), "invalid include pattern") {
		t.Errorf("expected invalid include pattern error, got %v", err)
	}
}

func TestServerHookAndEnumerate(t *testing.T) {
	w := wallet()
	c, _ := startServer(t, bridgetest.New().Add(w))
	ctx := testCtx(t)

	if _, err := c.HookClasses(ctx, []string{w.Name}); err == nil {
		t.Fatal("expected hooking without a filter to fail")
	}

	if err := c.SetInclusionFilter(ctx, "^withdraw$"); err != nil {
		t.Fatalf("SetInclusionFilter: %v", err)
	}
	resp, err := c.HookClasses(ctx, []string{w.Name, "com.example.Missing"})
	if err != nil {
		t.Fatalf("HookClasses: %v", err)
	}
	if resp.Count != 2 || resp.Installed != 2 || resp.Skipped != 1 {
		t.Errorf("unexpected hook response: %+v", resp)
	}
	if !w.Hooked("withdraw", bridge.Signature{"int"}) {
		t.Error("expected withdraw(int) to be hooked")
	}

	n, err := c.EnumerateClasses(ctx)
	if err != nil {
		t.Fatalf("EnumerateClasses: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 class, got %d", n)
	}
}

func TestServerRejectsBadRequests(t *testing.T) {
	c, _ := startServer(t, bridgetest.New())
	ctx := testCtx(t)

	tests := []struct {
		req  Request
		want string
	}{
		{Request{}, "missing op"},
		{Request{Op: "reboot"}, `unknown op "reboot"`},
		{Request{Op: OpProvidedClassesHook}, "no classes given"},
	}
	for _, tt := range tests {
		resp, err := c.Do(ctx, &tt.req)
		if err != nil {
			t.Fatalf("Do(%+v): %v", tt.req, err)
		}
		if resp.OK || !strings.Contains(resp.Error, tt.want) {
			t.Errorf("Do(%+v) = %+v, want error containing %q", tt.req, resp, tt.want)
		}
	}
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte(`{"op":"providedClassesHook","classes":["a.B","c.D"]}`))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.Op != OpProvidedClassesHook || len(req.Classes) != 2 {
		t.Errorf("unexpected request: %+v", req)
	}

	if _, err := ParseRequest([]byte("not json")); err == nil {
		t.Error("expected decode error")
	}
}

func TestServerStopIsIdempotent(t *testing.T) {
	dir, err := os.MkdirTemp("", "atrace")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	s, _, _ := newTestSurface(bridgetest.New())
	path := filepath.Join(dir, "control.sock")
	srv := NewServer(path, s, zap.NewNop())
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv.Stop()
	srv.Stop()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected socket to be removed, stat err = %v", err)
	}
}
