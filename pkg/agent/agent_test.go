// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package agent

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/postgor/android-trace/pkg/config"
	"github.com/postgor/android-trace/pkg/control"
	"go.uber.org/zap"
)

const walletScript = `
local Wallet = class("com.example.Wallet")
Wallet:field("total", 0)
Wallet:constructor({}, function(self) end)
Wallet:method("deposit", {"int"}, function(self, n)
  self.total = self.total + n
  return self.total
end)
Wallet:method("reset", {}, function(self) self.total = 0 end)

function main()
  local w = new("com.example.Wallet")
  w:deposit(1)
  w:deposit(2)
  w:deposit(3)
  return w.total
end

function forever()
  while true do sleep(10) end
end

function broken()
  error("target crashed")
end
`

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wallet.lua")
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// testConfig returns a config with every network surface disabled.
func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Runtime.Scripts = []string{writeScript(t, walletScript)}
	cfg.Transport.Stdout.Enabled = false
	cfg.Transport.WebSocket.Enabled = false
	cfg.Health.Enabled = false
	cfg.Control.Enabled = false
	return cfg
}

func startAgent(t *testing.T, cfg *config.Config) *Agent {
	t.Helper()
	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		a.Stop()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { a.Stop() })
	return a
}

func TestAgentHooksConfiguredClasses(t *testing.T) {
	cfg := testConfig(t)
	cfg.Hook.Include = "^deposit$"
	cfg.Hook.Classes = []string{"com.example.Wallet"}

	a := startAgent(t, cfg)
	if err := a.Wait(); err != nil {
		t.Fatalf("entrypoint: %v", err)
	}

	snap := a.Stats().Snapshot()
	if snap.HooksInstalled != 2 {
		t.Errorf("expected constructor and deposit to be hooked, got %d", snap.HooksInstalled)
	}
	if snap.CallsObserved != 4 {
		t.Errorf("expected 1 construction and 3 deposits, got %d", snap.CallsObserved)
	}
	if snap.Passes != 1 {
		t.Errorf("expected 1 hooking pass, got %d", snap.Passes)
	}
}

func TestAgentEnumerateOnStart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Hook.EnumerateOnStart = true

	a := startAgent(t, cfg)
	a.Wait()

	snap := a.Stats().Snapshot()
	if snap.ClassesDiscovered != 1 {
		t.Errorf("expected 1 discovered class, got %d", snap.ClassesDiscovered)
	}
	if snap.HooksInstalled != 0 || snap.CallsObserved != 0 {
		t.Errorf("enumeration must not hook: %+v", snap)
	}
}

func TestAgentEntrypointFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.Entrypoint = "broken"

	a := startAgent(t, cfg)
	err := a.Wait()
	if err == nil || !strings.Contains(err.Error(), "target crashed") {
		t.Errorf("expected target error, got %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Error("expected Done to be closed")
	}
}

func TestAgentMissingEntrypointIsNotAnError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.Entrypoint = "serve"

	a := startAgent(t, cfg)
	if err := a.Wait(); err != nil {
		t.Errorf("expected no error for a missing entrypoint, got %v", err)
	}
}

func TestAgentStopCancelsEntrypoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.Entrypoint = "forever"

	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- a.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the entrypoint")
	}
	if err := a.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestAgentScriptLoadFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runtime.Scripts = []string{writeScript(t, "this is not lua")}

	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop()

	err = a.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "load script") {
		t.Errorf("expected load script error, got %v", err)
	}
}

func TestAgentReload(t *testing.T) {
	cfg := testConfig(t)
	cfg.Hook.Include = "^deposit$"
	a := startAgent(t, cfg)
	a.Wait()

	bad := testConfig(t)
	bad.Hook.Include = "^reset$"
	bad.Hook.Exclude = "("
	if err := a.Reload(bad); err == nil {
		t.Fatal("expected reload with a malformed exclusion to fail")
	}
	if inc, _, _ := a.Surface().Filters(); inc != "^deposit$" {
		t.Errorf("expected filters to be unchanged, got include %q", inc)
	}

	good := testConfig(t)
	good.Hook.Include = "^reset$"
	good.Hook.Exclude = "^deposit$"
	if err := a.Reload(good); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	inc, exc, active := a.Surface().Filters()
	if inc != "^reset$" || exc != "^deposit$" || !active {
		t.Errorf("unexpected filters after reload: %q %q %v", inc, exc, active)
	}
}

func TestAgentOperatorSurfaces(t *testing.T) {
	dir, err := os.MkdirTemp("", "atrace")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	cfg := testConfig(t)
	cfg.Runtime.Entrypoint = "forever"
	cfg.Health.Enabled = true
	cfg.Health.Port = "127.0.0.1:0"
	cfg.Transport.WebSocket.Enabled = true
	cfg.Control.Enabled = true
	cfg.Control.SocketPath = filepath.Join(dir, "control.sock")

	a := startAgent(t, cfg)

	resp, err := http.Get("http://" + a.HealthAddr() + "/ready")
	if err != nil {
		t.Fatalf("GET /ready: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected ready, got %d", resp.StatusCode)
	}

	c, err := control.Dial(cfg.Control.SocketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.SetInclusionFilter(ctx, "^reset$"); err != nil {
		t.Fatalf("SetInclusionFilter: %v", err)
	}
	hr, err := c.HookClasses(ctx, []string{"com.example.Wallet"})
	if err != nil {
		t.Fatalf("HookClasses: %v", err)
	}
	if hr.Installed != 2 {
		t.Errorf("expected constructor and reset to be hooked, got %+v", hr)
	}
	if got := a.Stats().Snapshot().HooksInstalled; got != 2 {
		t.Errorf("expected stats to record 2 installs, got %d", got)
	}
}
