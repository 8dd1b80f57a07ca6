// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Command tracectl steers a running android-trace agent over its control
// socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/postgor/android-trace/pkg/config"
	"github.com/postgor/android-trace/pkg/control"
)

const usage = `usage: tracectl [-socket path] [-timeout d] <command> [args]

commands:
  include <regexp>      set the method inclusion filter
  exclude [regexp]      set the method exclusion filter; no argument disables it
  filters               show the current filters
  enumerate             report every loaded class
  hook <class>...       hook the given classes with the current filters
`

func main() {
	var (
		socketPath string
		timeout    time.Duration
	)
	flag.StringVar(&socketPath, "socket", config.DefaultConfig().Control.SocketPath, "agent control socket")
	flag.DurationVar(&timeout, "timeout", control.DefaultTimeout, "request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c, err := control.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracectl: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := run(ctx, c, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tracectl: %v\n", err)
		cancel()
		c.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, c *control.Client, cmd string, args []string) error {
	switch cmd {
	case "include":
		if len(args) != 1 {
			return fmt.Errorf("include takes exactly one pattern")
		}
		if err := c.SetInclusionFilter(ctx, args[0]); err != nil {
			return err
		}
		return showFilters(ctx, c)

	case "exclude":
		pattern := ""
		if len(args) > 1 {
			return fmt.Errorf("exclude takes at most one pattern")
		}
		if len(args) == 1 {
			pattern = args[0]
		}
		if err := c.SetExclusionFilter(ctx, pattern); err != nil {
			return err
		}
		return showFilters(ctx, c)

	case "filters":
		return showFilters(ctx, c)

	case "enumerate":
		n, err := c.EnumerateClasses(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d classes reported\n", n)
		return nil

	case "hook":
		if len(args) == 0 {
			return fmt.Errorf("hook needs at least one class name")
		}
		resp, err := c.HookClasses(ctx, args)
		if err != nil {
			return err
		}
		fmt.Printf("classes=%d installed=%d failed=%d skipped=%d\n",
			resp.Count, resp.Installed, resp.Failed, resp.Skipped)
		return nil

	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func showFilters(ctx context.Context, c *control.Client) error {
	resp, err := c.Filters(ctx)
	if err != nil {
		return err
	}
	exclude := "(inactive)"
	if resp.ExcludeActive {
		exclude = resp.Exclude
	}
	fmt.Printf("include: %s\nexclude: %s\n", resp.Include, exclude)
	return nil
}
