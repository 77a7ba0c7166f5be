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

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Pool is one capacity pool as reported by the orchestrator.
type Pool struct {
	ID          string `json:"id"`
	Units       string `json:"units"`
	Granularity int64  `json:"granularity"`
	Quantity    int64  `json:"quantity"`
	Free        int64  `json:"free"`
}

// Instance is a provisioned capacity reservation.
type Instance struct {
	ID       int64            `json:"id"`
	Label    string           `json:"label"`
	Capacity InstanceCapacity `json:"capacity"`
}

type InstanceCapacity struct {
	Bytes int64 `json:"bytes"`
}

// Session is a live ownership token; job-scoped tokens are numeric job ids.
type Session struct {
	ID      int64  `json:"id"`
	Token   string `json:"token"`
	OwnerID uint32 `json:"owner"`
	Created int64  `json:"created"`
}

// Configuration links an instance to its backing configuration.
type Configuration struct {
	ID    int64              `json:"id"`
	Links ConfigurationLinks `json:"links"`
}

type ConfigurationLinks struct {
	Instance int64 `json:"instance"`
}

// Client retrieves typed inventory snapshots from the orchestrator.
type Client struct {
	runner  Runner
	timeout time.Duration
}

func NewClient(runner Runner, timeout time.Duration) *Client {
	return &Client{runner: runner, timeout: timeout}
}

func (c *Client) Pools(ctx context.Context) ([]Pool, error) {
	var pools []Pool
	if err := c.fetch(ctx, FnPools, &pools); err != nil {
		return nil, err
	}
	return pools, nil
}

func (c *Client) Instances(ctx context.Context) ([]Instance, error) {
	var instances []Instance
	if err := c.fetch(ctx, FnShowInstances, &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := c.fetch(ctx, FnShowSessions, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *Client) Configurations(ctx context.Context) ([]Configuration, error) {
	var configs []Configuration
	if err := c.fetch(ctx, FnShowConfigs, &configs); err != nil {
		return nil, err
	}
	return configs, nil
}

// fetch runs one show function and decodes its single-key response
// object ({"pools": [...]}) into the typed list. Unknown fields are
// ignored by the typed decode, never silently mis-assigned.
func (c *Client) fetch(ctx context.Context, function string, out interface{}) error {
	output, status := c.runner.Run(ctx, function, nil, c.timeout)
	if !Succeeded(status) {
		return fmt.Errorf("%s failed with status %d: %s", function, status, strings.TrimSpace(output))
	}
	if strings.TrimSpace(output) == "" {
		return nil
	}
	normalized := NormalizePython(output)
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(normalized), &envelope); err != nil {
		return fmt.Errorf("%s returned malformed response: %w", function, err)
	}
	for _, raw := range envelope {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s returned unexpected record shape: %w", function, err)
		}
		return nil
	}
	return nil
}

// NormalizePython rewrites Python literal syntax (single quotes, unicode
// string prefixes, None/True/False) into JSON. The orchestrator emits
// repr()-style output rather than strict JSON.
func NormalizePython(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	quoted := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			b.WriteByte('"')
			quoted = !quoted
		case c == 'u' && !quoted && i+1 < len(s) && s[i+1] == '\'':
			// skip over unicode flag
		case !quoted && hasWord(s, i, "None"):
			b.WriteString("null")
			i += 3
		case !quoted && hasWord(s, i, "True"):
			b.WriteString("true")
			i += 3
		case !quoted && hasWord(s, i, "False"):
			b.WriteString("false")
			i += 4
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func hasWord(s string, i int, word string) bool {
	if !strings.HasPrefix(s[i:], word) {
		return false
	}
	if i > 0 && isIdentByte(s[i-1]) {
		return false
	}
	end := i + len(word)
	return end >= len(s) || !isIdentByte(s[end])
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
