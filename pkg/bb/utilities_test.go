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

package bb

import (
	"context"
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/ninotreve/burstbuffer/pkg/common/configs"
)

// fakeScheduler is an in-memory scheduler collaborator for tests.
type fakeScheduler struct {
	sync.Mutex

	jobs         map[uint64]JobInfo
	held         map[uint64]string
	env          map[uint64][]string
	kicked       int
	reservations Reservations
	privileged   map[uint32]bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		jobs:       make(map[uint64]JobInfo),
		held:       make(map[uint64]string),
		env:        make(map[uint64][]string),
		privileged: make(map[uint32]bool),
	}
}

func (s *fakeScheduler) addJob(info JobInfo) {
	s.Lock()
	defer s.Unlock()
	s.jobs[info.JobID] = info
}

func (s *fakeScheduler) heldReason(jobID uint64) string {
	s.Lock()
	defer s.Unlock()
	return s.held[jobID]
}

func (s *fakeScheduler) kickCount() int {
	s.Lock()
	defer s.Unlock()
	return s.kicked
}

func (s *fakeScheduler) jobEnv(jobID uint64) []string {
	s.Lock()
	defer s.Unlock()
	return s.env[jobID]
}

func (s *fakeScheduler) LockJobs()   {}
func (s *fakeScheduler) UnlockJobs() {}

func (s *fakeScheduler) JobExists(jobID uint64) bool {
	s.Lock()
	defer s.Unlock()
	_, ok := s.jobs[jobID]
	return ok
}

func (s *fakeScheduler) Job(jobID uint64) (JobInfo, bool) {
	s.Lock()
	defer s.Unlock()
	info, ok := s.jobs[jobID]
	return info, ok
}

func (s *fakeScheduler) HoldJob(jobID uint64, reason string) {
	s.Lock()
	defer s.Unlock()
	s.held[jobID] = reason
}

func (s *fakeScheduler) KickScheduler() {
	s.Lock()
	defer s.Unlock()
	s.kicked++
}

func (s *fakeScheduler) SetJobEnv(jobID uint64, env []string) {
	s.Lock()
	defer s.Unlock()
	s.env[jobID] = append(s.env[jobID], env...)
}

func (s *fakeScheduler) Reservations(jobID uint64) Reservations {
	s.Lock()
	defer s.Unlock()
	return s.reservations
}

func (s *fakeScheduler) IsPrivileged(userID uint32) bool {
	s.Lock()
	defer s.Unlock()
	return s.privileged[userID]
}

func (s *fakeScheduler) DefaultAttribution(userID uint32) (string, string, string) {
	return "defacct", "defpart", "normal"
}

// toolCall is one recorded orchestrator invocation.
type toolCall struct {
	function string
	args     []string
}

// fakeTool replays canned responses per function and records every
// invocation.
type fakeTool struct {
	sync.Mutex

	responses map[string]string
	statuses  map[string]int
	calls     []toolCall
	// onCall, when set, observes every invocation before the canned
	// response is returned.
	onCall func(toolCall)
}

func newFakeTool() *fakeTool {
	return &fakeTool{
		responses: make(map[string]string),
		statuses:  make(map[string]int),
	}
}

func (f *fakeTool) respond(function, response string, status int) {
	f.Lock()
	defer f.Unlock()
	f.responses[function] = response
	f.statuses[function] = status
}

func (f *fakeTool) Run(ctx context.Context, function string, args []string, timeout time.Duration) (string, int) {
	f.Lock()
	defer f.Unlock()
	call := toolCall{function: function, args: append([]string(nil), args...)}
	f.calls = append(f.calls, call)
	if f.onCall != nil {
		f.onCall(call)
	}
	return f.responses[function], f.statuses[function]
}

func (f *fakeTool) callsTo(function string) []toolCall {
	f.Lock()
	defer f.Unlock()
	var matched []toolCall
	for _, call := range f.calls {
		if call.function == function {
			matched = append(matched, call)
		}
	}
	return matched
}

func hasArg(call toolCall, arg string) bool {
	for _, a := range call.args {
		if a == arg {
			return true
		}
	}
	return false
}

func argValue(call toolCall, flag string) string {
	for i, a := range call.args {
		if a == flag && i+1 < len(call.args) {
			return call.args[i+1]
		}
	}
	return ""
}

func testConfig(t *testing.T) *configs.Config {
	conf := &configs.Config{
		StateDir:    t.TempDir(),
		DefaultPool: "wlm_pool",
		Granularity: "1GiB",
	}
	assert.NilError(t, conf.Validate())
	return conf
}

// newTestManager wires a manager against the fakes without starting
// the reconciliation loop.
func newTestManager(t *testing.T, conf *configs.Config) (*Manager, *fakeScheduler, *fakeTool) {
	if conf == nil {
		conf = testConfig(t)
	}
	sched := newFakeScheduler()
	tool := newFakeTool()
	manager := NewManager(conf, sched, tool)
	manager.capacity.Granularity = conf.GranularityBytes
	return manager, sched, tool
}

// setPoolSpace primes the capacity model as a reconcile cycle would.
func setPoolSpace(m *Manager, total, used int64) {
	m.Lock()
	defer m.Unlock()
	m.capacity.TotalSpace = total
	m.capacity.UsedSpace = used
}
