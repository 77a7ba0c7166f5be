/*
 Licensed to the Apache Software Foundation (ASF) under one
 or more contributor license agreements.  See the NOTICE file
 distributed with this work for additional information
 regarding copyright ownership.  The ASF licenses this file
 to you under the Apache License, Version 2.0 (the
 "License"); you may not use this file except in compliance
 with the License.  You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package request

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ninotreve/burstbuffer/pkg/bb/objects"
	"github.com/ninotreve/burstbuffer/pkg/common"
	"github.com/ninotreve/burstbuffer/pkg/log"
)

// nodesPool is the generic resource charged when capacity is requested
// in whole node units instead of bytes.
const nodesPool = "nodes"

// Options carries the context the parse functions need beyond the raw
// text. Parsing itself stays a pure function of (text, options).
type Options struct {
	Granularity int64
	// EnablePersistent permits create/destroy directives: set for
	// privileged submitters or when the operator enabled it globally.
	EnablePersistent bool
	// NodeCount is the job's requested node count, used to scale
	// per node swap space. Zero means unspecified.
	NodeCount int64
	UserID    uint32
}

// ParseBatchScript reads the directive comment block at the top of a
// batch script and produces the structured request. Directives start
// with #BB (persistent buffer management) or #DW (data warp demands);
// scanning stops at the first non-comment line.
func ParseBatchScript(script string, opts Options) (*Request, error) {
	req := &Request{Version: CurrentVersion}
	var swapGiB int64

	for _, line := range strings.Split(script, "\n") {
		if line == "" || line[0] != '#' {
			break
		}
		switch {
		case strings.HasPrefix(line, "#BB"):
			directive := strings.TrimSpace(line[3:])
			if err := parsePersistentDirective(directive, opts, req); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, "#DW"):
			directive := strings.TrimSpace(line[3:])
			if err := parseDataWarpDirective(directive, opts, req, &swapGiB); err != nil {
				return nil, err
			}
		}
	}

	applySwap(req, swapGiB, opts)
	return req, nil
}

// ParseInteractive builds a request from the compact specification an
// interactive job submits in place of a script, for example
// "capacity=100GiB swap=2".
func ParseInteractive(spec string, opts Options) (*Request, error) {
	req := &Request{Version: CurrentVersion}
	var swapGiB int64

	if value, ok := lookupValue(spec, "capacity="); ok {
		if err := applyCapacity(value, opts, req); err != nil {
			return nil, err
		}
	}
	if value, ok := lookupValue(spec, "swap="); ok {
		gib, err := strconv.ParseInt(strings.TrimRight(value, "GiB"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid swap specification %q", value)
		}
		swapGiB = gib
	}

	applySwap(req, swapGiB, opts)
	return req, nil
}

// BuildScript renders a synthetic script for an interactive job so the
// orchestrator tool always receives a script file.
func BuildScript(req *Request) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	if req.SwapGiB > 0 {
		fmt.Fprintf(&b, "#DW swap %dGiB\n", req.SwapGiB)
	}
	if req.JobBytes > 0 {
		fmt.Fprintf(&b, "#DW jobdw capacity=%s", common.FormatSize(req.JobBytes))
		if req.Access != "" {
			fmt.Fprintf(&b, " access_mode=%s", req.Access)
		}
		if req.Type != "" {
			fmt.Fprintf(&b, " type=%s", req.Type)
		}
		b.WriteString("\n")
	}
	for _, gres := range req.Gres {
		if gres.Name == nodesPool {
			fmt.Fprintf(&b, "#DW jobdw capacity=%dnodes\n", gres.Count)
		}
	}
	return b.String()
}

func parsePersistentDirective(directive string, opts Options, req *Request) error {
	switch {
	case strings.HasPrefix(directive, "create_persistent"):
		if !opts.EnablePersistent {
			log.Log(log.BurstBuffer).Info("user disabled from creating persistent burst buffer",
				zap.Uint32("userID", opts.UserID))
			return fmt.Errorf("persistent buffer creation is not enabled for user %d", opts.UserID)
		}
		name, ok := lookupValue(directive, "name=")
		if !ok {
			return fmt.Errorf("create_persistent requires a name")
		}
		if name[0] >= '0' && name[0] <= '9' {
			return fmt.Errorf("persistent buffer name %q must not start with a digit", name)
		}
		capacity, ok := lookupValue(directive, "capacity=")
		if !ok {
			return fmt.Errorf("create_persistent requires a capacity")
		}
		size, err := common.ParseSize(capacity)
		if err != nil || size == 0 {
			return fmt.Errorf("invalid capacity %q for persistent buffer %q", capacity, name)
		}
		access, _ := lookupValue(directive, "access=")
		bufType, _ := lookupValue(directive, "type=")
		req.Persistent = append(req.Persistent, Directive{
			Name:   name,
			Size:   common.RoundUpToGranularity(size, opts.Granularity),
			Access: access,
			Type:   bufType,
		})
	case strings.HasPrefix(directive, "destroy_persistent"):
		if !opts.EnablePersistent {
			log.Log(log.BurstBuffer).Info("user disabled from destroying persistent burst buffer",
				zap.Uint32("userID", opts.UserID))
			return fmt.Errorf("persistent buffer destruction is not enabled for user %d", opts.UserID)
		}
		name, ok := lookupValue(directive, "name=")
		if !ok {
			return fmt.Errorf("destroy_persistent requires a name")
		}
		req.Persistent = append(req.Persistent, Directive{
			Name:    name,
			Destroy: true,
			Hurry:   strings.Contains(directive, "hurry"),
		})
	}
	return nil
}

func parseDataWarpDirective(directive string, opts Options, req *Request, swapGiB *int64) error {
	switch {
	case strings.HasPrefix(directive, "jobdw"):
		capacity, ok := lookupValue(directive, "capacity=")
		if !ok {
			return nil
		}
		if err := applyCapacity(capacity, opts, req); err != nil {
			return err
		}
		if access, ok := lookupValue(directive, "access_mode="); ok {
			req.Access = access
		}
		if bufType, ok := lookupValue(directive, "type="); ok {
			req.Type = bufType
		}
	case strings.HasPrefix(directive, "swap"):
		value := strings.TrimSpace(directive[4:])
		gib, err := strconv.ParseInt(strings.TrimRight(value, "GiB"), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid swap specification %q", value)
		}
		*swapGiB += gib
	case strings.HasPrefix(directive, "persistentdw"):
		req.UsePersistent = true
	}
	return nil
}

// applyCapacity folds one capacity value into the request: node-unit
// capacities become a nodes generic resource, byte capacities add to
// the ephemeral demand.
func applyCapacity(value string, opts Options, req *Request) error {
	if nodes, ok := strings.CutSuffix(value, nodesPool); ok {
		count, err := strconv.ParseInt(nodes, 10, 64)
		if err != nil || count == 0 {
			return fmt.Errorf("invalid node capacity %q", value)
		}
		req.Gres = append(req.Gres, objects.GresSpec{Name: nodesPool, Count: count})
		return nil
	}
	size, err := common.ParseSize(value)
	if err != nil || size == 0 {
		return fmt.Errorf("invalid capacity %q", value)
	}
	req.JobBytes += common.RoundUpToGranularity(size, opts.Granularity)
	return nil
}

// applySwap folds swap demand into the byte total. Swap is specified
// per node; a missing node count defaults to one with a logged notice.
func applySwap(req *Request, swapGiB int64, opts Options) {
	if swapGiB == 0 {
		return
	}
	nodes := opts.NodeCount
	if nodes <= 0 {
		nodes = 1
		log.Log(log.BurstBuffer).Info("swap space requested without a node count, assuming one node",
			zap.Uint32("userID", opts.UserID),
			zap.Int64("swapGiB", swapGiB))
	}
	req.SwapGiB = swapGiB
	req.SwapNodes = nodes
	req.JobBytes += common.RoundUpToGranularity(swapGiB*common.GiB*nodes, opts.Granularity)
}

// lookupValue finds key= in a directive and returns the value up to the
// next space.
func lookupValue(directive, key string) (string, bool) {
	idx := strings.Index(directive, key)
	if idx < 0 {
		return "", false
	}
	value := directive[idx+len(key):]
	if end := strings.IndexByte(value, ' '); end >= 0 {
		value = value[:end]
	}
	if value == "" {
		return "", false
	}
	return value, true
}
