// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package control

import (
	"encoding/json"
	"fmt"
)

// Operation names accepted on the control socket.
const (
	OpSetMethodFilter     = "setMethodFilter"
	OpSetMethodExclude    = "setMethodExclude"
	OpEnumerateClasses    = "enumerateClasses"
	OpProvidedClassesHook = "providedClassesHook"
	OpGetFilters          = "getFilters"
)

// MaxDatagram bounds one request or response.
const MaxDatagram = 64 * 1024

// Request is one control command.
type Request struct {
	Op      string   `json:"op"`
	Pattern string   `json:"pattern,omitempty"`
	Classes []string `json:"classes,omitempty"`
}

// Response answers a Request.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	Count     int `json:"count,omitempty"`
	Installed int `json:"installed,omitempty"`
	Failed    int `json:"failed,omitempty"`
	Skipped   int `json:"skipped,omitempty"`

	Include       string `json:"include,omitempty"`
	Exclude       string `json:"exclude,omitempty"`
	ExcludeActive bool   `json:"excludeActive,omitempty"`
}

// Err returns the remote failure as an error, or nil.
func (r *Response) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("control: %s", r.Error)
}

// ParseRequest decodes and checks one datagram.
func ParseRequest(b []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	switch req.Op {
	case OpSetMethodFilter, OpSetMethodExclude, OpEnumerateClasses, OpGetFilters:
	case OpProvidedClassesHook:
		if len(req.Classes) == 0 {
			return nil, fmt.Errorf("%s: no classes given", req.Op)
		}
	case "":
		return nil, fmt.Errorf("decode request: missing op")
	default:
		return nil, fmt.Errorf("unknown op %q", req.Op)
	}
	return &req, nil
}
