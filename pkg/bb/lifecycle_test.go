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
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/ninotreve/burstbuffer/pkg/bb/objects"
	"github.com/ninotreve/burstbuffer/pkg/common"
	"github.com/ninotreve/burstbuffer/pkg/common/configs"
	"github.com/ninotreve/burstbuffer/pkg/orchestrator"
)

func persistentConfig(t *testing.T) *configs.Config {
	conf := &configs.Config{
		StateDir:         t.TempDir(),
		DefaultPool:      "wlm_pool",
		Granularity:      "1GiB",
		EnablePersistent: true,
	}
	assert.NilError(t, conf.Validate())
	return conf
}

func waitStagedIn(t *testing.T, m *Manager, jobID uint64) {
	t.Helper()
	err := common.WaitFor(10*time.Millisecond, 5*time.Second, func() bool {
		return m.TestStageIn(jobID)
	})
	assert.NilError(t, err, "job %d never finished stage-in", jobID)
}

func waitSettled(t *testing.T, m *Manager, jobID uint64) {
	t.Helper()
	err := common.WaitFor(10*time.Millisecond, 5*time.Second, func() bool {
		return m.TestStageOut(jobID)
	})
	assert.NilError(t, err, "job %d buffer activity never settled", jobID)
}

func TestJobLifecycleHappyPath(t *testing.T) {
	m, sched, tool := newTestManager(t, nil)
	setPoolSpace(m, 500*common.GiB, 0)
	info := jobdwInfo(1, 500)
	sched.addJob(info)

	m.TryStageIn([]JobInfo{info})
	waitStagedIn(t, m, 1)

	setups := tool.callsTo(orchestrator.FnSetup)
	assert.Equal(t, len(setups), 1)
	assert.Equal(t, argValue(setups[0], "--token"), "1")
	assert.Equal(t, argValue(setups[0], "--caller"), "SLURM")
	assert.Equal(t, argValue(setups[0], "--user"), "500")
	assert.Equal(t, argValue(setups[0], "--capacity"), "wlm_pool:100GiB")
	assert.Equal(t, len(tool.callsTo(orchestrator.FnDataIn)), 1)

	m.Lock()
	alloc := m.registry.FindByJob(1)
	assert.Assert(t, alloc != nil)
	assert.Equal(t, alloc.State, objects.StagedIn.String())
	assert.Equal(t, m.capacity.UsedSpace, int64(100*common.GiB))
	m.Unlock()
	assert.Assert(t, sched.kickCount() > 0, "stage-in completion must kick the scheduler")

	assert.NilError(t, m.BeginRun(info))
	err := common.WaitFor(10*time.Millisecond, 5*time.Second, func() bool {
		return len(tool.callsTo(orchestrator.FnPreRun)) == 1
	})
	assert.NilError(t, err)

	m.StartStageOut(1, 500)
	waitSettled(t, m, 1)

	assert.Equal(t, len(tool.callsTo(orchestrator.FnDataOut)), 1)
	assert.Equal(t, len(tool.callsTo(orchestrator.FnPostRun)), 1)
	teardowns := tool.callsTo(orchestrator.FnTeardown)
	assert.Equal(t, len(teardowns), 1)
	assert.Assert(t, !hasArg(teardowns[0], "--hurry"), "a normal stage-out must not hurry teardown")

	m.Lock()
	assert.Assert(t, m.registry.FindByJob(1) == nil, "teardown must release the allocation")
	assert.Equal(t, m.capacity.UsedSpace, int64(0))
	assert.Equal(t, m.limits.UserUsage(500), int64(0))
	m.Unlock()
}

func TestStageInSetupFailureHoldsJob(t *testing.T) {
	m, sched, tool := newTestManager(t, nil)
	setPoolSpace(m, 500*common.GiB, 0)
	tool.respond(orchestrator.FnSetup, "allocation rejected by orchestrator", 1)
	info := jobdwInfo(1, 500)
	sched.addJob(info)

	m.TryStageIn([]JobInfo{info})

	err := common.WaitFor(10*time.Millisecond, 5*time.Second, func() bool {
		return sched.heldReason(1) != ""
	})
	assert.NilError(t, err, "failed stage-in must hold the job")
	assert.Assert(t, strings.Contains(sched.heldReason(1), "setup"))
	assert.Assert(t, strings.Contains(sched.heldReason(1), "allocation rejected"))

	// the hurried teardown releases everything the admission granted
	err = common.WaitFor(10*time.Millisecond, 5*time.Second, func() bool {
		m.Lock()
		defer m.Unlock()
		return m.registry.FindByJob(1) == nil && m.capacity.UsedSpace == 0
	})
	assert.NilError(t, err)
	teardowns := tool.callsTo(orchestrator.FnTeardown)
	assert.Equal(t, len(teardowns), 1)
	assert.Assert(t, hasArg(teardowns[0], "--hurry"))
}

func TestPersistentCreateSuccess(t *testing.T) {
	m, sched, tool := newTestManager(t, persistentConfig(t))
	setPoolSpace(m, 500*common.GiB, 0)
	tool.respond(orchestrator.FnCreatePersistent, "created instance mybuf", 0)

	info := jobdwInfo(1, 500)
	info.Script = "#!/bin/bash\n#BB create_persistent name=mybuf capacity=10GiB access=striped type=scratch\n"
	sched.addJob(info)

	m.TryStageIn([]JobInfo{info})
	waitStagedIn(t, m, 1)

	creates := tool.callsTo(orchestrator.FnCreatePersistent)
	assert.Equal(t, len(creates), 1)
	assert.Equal(t, argValue(creates[0], "-c"), "CLI")
	assert.Equal(t, argValue(creates[0], "-t"), "mybuf")
	assert.Equal(t, argValue(creates[0], "-u"), "500")
	assert.Equal(t, argValue(creates[0], "-a"), "striped")
	assert.Equal(t, argValue(creates[0], "-T"), "scratch")

	m.Lock()
	alloc := m.registry.FindByName("mybuf", 500)
	assert.Assert(t, alloc != nil)
	assert.Equal(t, alloc.State, objects.SubAllocated.String())
	assert.Equal(t, alloc.IsPersistent(), true)
	assert.Equal(t, m.capacity.UsedSpace, int64(10*common.GiB))
	assert.Equal(t, m.limits.UserUsage(500), int64(10*common.GiB))
	m.Unlock()
}

func TestPersistentCreateFailureReleasesReservation(t *testing.T) {
	m, sched, tool := newTestManager(t, persistentConfig(t))
	setPoolSpace(m, 500*common.GiB, 0)
	// success requires a response containing "created"
	tool.respond(orchestrator.FnCreatePersistent, "insufficient capacity", 1)

	info := jobdwInfo(1, 500)
	info.Script = "#!/bin/bash\n#BB create_persistent name=mybuf capacity=10GiB\n"
	sched.addJob(info)

	m.TryStageIn([]JobInfo{info})

	err := common.WaitFor(10*time.Millisecond, 5*time.Second, func() bool {
		return sched.heldReason(1) != ""
	})
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(sched.heldReason(1), "create of mybuf failed"))

	m.Lock()
	assert.Assert(t, m.registry.FindByName("mybuf", 500) == nil, "the reservation record must be removed")
	assert.Equal(t, m.capacity.UsedSpace, int64(0))
	assert.Equal(t, m.limits.UserUsage(500), int64(0))
	job := m.jobs[1]
	assert.Assert(t, job != nil)
	assert.Equal(t, job.Persistent[0].CurrentState(), objects.SubPending.String(), "a failed create returns to pending")
	m.Unlock()
}

func TestDestroyPersistent(t *testing.T) {
	m, sched, tool := newTestManager(t, persistentConfig(t))
	setPoolSpace(m, 500*common.GiB, 10*common.GiB)
	insertAlloc(t, m, 0, 500, "mybuf", 10*common.GiB, time.Time{})

	info := jobdwInfo(1, 500)
	info.Script = "#!/bin/bash\n#BB destroy_persistent name=mybuf\n"
	sched.addJob(info)

	m.TryStageIn([]JobInfo{info})
	waitStagedIn(t, m, 1)

	teardowns := tool.callsTo(orchestrator.FnTeardown)
	assert.Equal(t, len(teardowns), 1)
	assert.Equal(t, argValue(teardowns[0], "--token"), "mybuf", "destroy reuses teardown with the name as token")

	m.Lock()
	assert.Assert(t, m.registry.FindByName("mybuf", 500) == nil)
	assert.Equal(t, m.capacity.UsedSpace, int64(0))
	m.Unlock()
}

func TestDestroyPersistentDeniedForNonOwner(t *testing.T) {
	m, sched, _ := newTestManager(t, persistentConfig(t))
	setPoolSpace(m, 500*common.GiB, 10*common.GiB)
	insertAlloc(t, m, 0, 600, "mybuf", 10*common.GiB, time.Time{})

	info := jobdwInfo(1, 500)
	info.Script = "#!/bin/bash\n#BB destroy_persistent name=mybuf\n"
	sched.addJob(info)

	m.TryStageIn([]JobInfo{info})

	err := common.WaitFor(10*time.Millisecond, 5*time.Second, func() bool {
		return sched.heldReason(1) != ""
	})
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(sched.heldReason(1), "may not destroy"))

	m.Lock()
	assert.Assert(t, m.registry.FindByName("mybuf", 600) != nil, "the buffer must survive the denied destroy")
	m.Unlock()
}

func TestDestroyPersistentTokenNotFoundIsBenign(t *testing.T) {
	m, sched, tool := newTestManager(t, persistentConfig(t))
	setPoolSpace(m, 500*common.GiB, 10*common.GiB)
	insertAlloc(t, m, 0, 500, "mybuf", 10*common.GiB, time.Time{})
	tool.respond(orchestrator.FnTeardown, "error: token not found", 1)

	info := jobdwInfo(1, 500)
	info.Script = "#!/bin/bash\n#BB destroy_persistent name=mybuf\n"
	sched.addJob(info)

	m.TryStageIn([]JobInfo{info})
	waitStagedIn(t, m, 1)

	m.Lock()
	assert.Assert(t, m.registry.FindByName("mybuf", 500) == nil)
	m.Unlock()
	assert.Equal(t, sched.heldReason(1), "")
}

func TestCancelDuringStageIn(t *testing.T) {
	m, sched, tool := newTestManager(t, nil)
	setPoolSpace(m, 500*common.GiB, 0)
	info := jobdwInfo(1, 500)
	sched.addJob(info)

	m.TryStageIn([]JobInfo{info})
	waitStagedIn(t, m, 1)

	m.Cancel(1, 500)
	waitSettled(t, m, 1)

	// an explicit cancel always tears down in a hurry
	teardowns := tool.callsTo(orchestrator.FnTeardown)
	assert.Equal(t, len(teardowns), 1)
	assert.Assert(t, hasArg(teardowns[0], "--hurry"))
	m.Lock()
	assert.Assert(t, m.registry.FindByJob(1) == nil)
	assert.Equal(t, m.capacity.UsedSpace, int64(0))
	m.Unlock()
}

func TestCancelPendingJobDropsDescriptor(t *testing.T) {
	m, _, tool := newTestManager(t, nil)
	info := jobdwInfo(1, 500)

	// cache the descriptor without admitting the job
	m.Lock()
	_, err := m.jobBufferLocked(info)
	m.Unlock()
	assert.NilError(t, err)

	m.Cancel(1, 500)
	assert.Equal(t, m.TestStageOut(1), true)
	assert.Equal(t, len(tool.callsTo(orchestrator.FnTeardown)), 0, "a pending job has nothing to tear down")
}

func TestStageOutPersistentOnlyJobSkipsDataOut(t *testing.T) {
	m, sched, tool := newTestManager(t, persistentConfig(t))
	setPoolSpace(m, 500*common.GiB, 10*common.GiB)
	insertAlloc(t, m, 0, 500, "mybuf", 10*common.GiB, time.Time{})

	info := jobdwInfo(1, 500)
	info.Script = "#!/bin/bash\n#DW persistentdw name=mybuf\n"
	sched.addJob(info)

	m.TryStageIn([]JobInfo{info})
	waitStagedIn(t, m, 1)
	assert.NilError(t, m.BeginRun(info))
	m.StartStageOut(1, 500)
	waitSettled(t, m, 1)

	assert.Equal(t, len(tool.callsTo(orchestrator.FnDataOut)), 0, "no data to move, straight to teardown")
	teardowns := tool.callsTo(orchestrator.FnTeardown)
	assert.Equal(t, len(teardowns), 1)
	assert.Assert(t, !hasArg(teardowns[0], "--hurry"))

	m.Lock()
	assert.Assert(t, m.registry.FindByName("mybuf", 500) != nil, "the shared buffer must outlive the job")
	m.Unlock()
}
