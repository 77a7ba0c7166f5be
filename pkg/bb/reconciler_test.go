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
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/ninotreve/burstbuffer/pkg/bb/objects"
	"github.com/ninotreve/burstbuffer/pkg/common"
	"github.com/ninotreve/burstbuffer/pkg/orchestrator"
)

// The orchestrator emits repr() style output, not strict JSON.
const (
	poolsResponse = `{'pools': [
		{'id': 'wlm_pool', 'units': 'bytes', 'granularity': 1073741824, 'quantity': 500, 'free': 400},
		{'id': 'nodes', 'units': 'nodes', 'granularity': 1, 'quantity': 10, 'free': 8}]}`
	emptySessions  = `{'sessions': []}`
	emptyInstances = `{'instances': []}`
)

func primeInventory(tool *fakeTool, sessions, instances string) {
	tool.respond(orchestrator.FnPools, poolsResponse, 0)
	tool.respond(orchestrator.FnShowSessions, sessions, 0)
	tool.respond(orchestrator.FnShowInstances, instances, 0)
}

func TestReconcileRefreshesCapacity(t *testing.T) {
	m, _, tool := newTestManager(t, nil)
	primeInventory(tool, emptySessions, emptyInstances)

	m.reconcile()

	total, used := m.SystemSize()
	assert.Equal(t, total, int64(500*common.GiB))
	assert.Equal(t, used, int64(100*common.GiB))
	m.Lock()
	defer m.Unlock()
	assert.Equal(t, m.capacity.Granularity, int64(common.GiB))
	nodes := m.capacity.FindGres("nodes")
	assert.Assert(t, nodes != nil)
	assert.Equal(t, nodes.Total, int64(10))
	assert.Equal(t, nodes.Used, int64(2))
}

func TestReconcileAdoptsUnknownSession(t *testing.T) {
	m, _, tool := newTestManager(t, nil)
	primeInventory(tool,
		`{'sessions': [{'id': 1, 'token': 'mybuf', 'owner': 500, 'created': 1700000000}]}`,
		`{'instances': [{'id': 1, 'label': 'mybuf', 'capacity': {'bytes': 10737418240}}]}`)

	m.reconcile()

	m.Lock()
	alloc := m.registry.FindByName("mybuf", 500)
	assert.Assert(t, alloc != nil)
	assert.Equal(t, alloc.Size, int64(10*common.GiB))
	assert.Equal(t, alloc.State, objects.SubAllocated.String())
	assert.Assert(t, alloc.IsPersistent())
	// no snapshot and no sibling, attribution comes from scheduler defaults
	assert.Equal(t, alloc.Account, "defacct")
	assert.Equal(t, alloc.Partition, "defpart")
	_, saved := m.saved["mybuf"]
	m.Unlock()
	assert.Assert(t, saved, "adopted buffer must be persisted to the snapshot")
}

func TestReconcileRestoresSavedAttribution(t *testing.T) {
	conf := testConfig(t)
	m, _, tool := newTestManager(t, conf)
	assert.NilError(t, m.state.save([]stateRecord{{
		Account:    "science",
		CreateTime: 1700000000,
		Name:       "mybuf",
		Partition:  "batch",
		QOS:        "high",
		UserID:     500,
		Size:       10 * common.GiB,
	}}))
	primeInventory(tool,
		`{'sessions': [{'id': 1, 'token': 'mybuf', 'owner': 500, 'created': 1700000000}]}`,
		`{'instances': [{'id': 1, 'label': 'mybuf', 'capacity': {'bytes': 10737418240}}]}`)

	m.recover()

	m.Lock()
	defer m.Unlock()
	alloc := m.registry.FindByName("mybuf", 500)
	assert.Assert(t, alloc != nil)
	assert.Equal(t, alloc.Account, "science")
	assert.Equal(t, alloc.Partition, "batch")
	assert.Equal(t, alloc.QOS, "high")
}

func TestReconcilePurgesUnreportedBuffer(t *testing.T) {
	m, _, tool := newTestManager(t, nil)
	primeInventory(tool, emptySessions, emptyInstances)
	m.Lock()
	assert.NilError(t, m.registry.Insert(&objects.Allocation{
		Name:       "ghost",
		UserID:     500,
		Size:       5 * common.GiB,
		CreateTime: time.Now(),
		State:      objects.SubAllocated.String(),
	}))
	m.Unlock()

	m.reconcile()
	m.Lock()
	alloc := m.registry.FindByName("ghost", 500)
	assert.Assert(t, alloc != nil, "one unreported cycle must not purge")
	assert.Equal(t, alloc.UnseenCycles, 1)
	m.Unlock()

	m.reconcile()
	m.Lock()
	defer m.Unlock()
	assert.Assert(t, m.registry.FindByName("ghost", 500) == nil)
}

func TestReconcileKeepsReportedBufferFresh(t *testing.T) {
	m, _, tool := newTestManager(t, nil)
	primeInventory(tool,
		`{'sessions': [{'id': 1, 'token': 'mybuf', 'owner': 500, 'created': 1700000000}]}`,
		`{'instances': [{'id': 1, 'label': 'mybuf', 'capacity': {'bytes': 1073741824}}]}`)

	m.reconcile()
	m.reconcile()
	m.reconcile()

	m.Lock()
	defer m.Unlock()
	alloc := m.registry.FindByName("mybuf", 500)
	assert.Assert(t, alloc != nil)
	assert.Equal(t, alloc.UnseenCycles, 0)
}

func TestReconcileToolFailureLeavesStateAlone(t *testing.T) {
	m, _, tool := newTestManager(t, nil)
	tool.respond(orchestrator.FnPools, "connection refused", 1)

	setPoolSpace(m, 50*common.GiB, 10*common.GiB)
	m.reconcile()

	total, used := m.SystemSize()
	assert.Equal(t, total, int64(50*common.GiB))
	assert.Equal(t, used, int64(10*common.GiB))
}

func TestRecoverTearsDownVestigialJobBuffer(t *testing.T) {
	m, _, tool := newTestManager(t, nil)
	// a numeric token is a job scoped buffer; job 7 no longer exists
	primeInventory(tool,
		`{'sessions': [{'id': 3, 'token': '7', 'owner': 500, 'created': 1700000000}]}`,
		`{'instances': [{'id': 3, 'label': '7', 'capacity': {'bytes': 5368709120}}]}`)

	m.recover()

	assert.NilError(t, common.WaitFor(10*time.Millisecond, 2*time.Second, func() bool {
		m.Lock()
		defer m.Unlock()
		return m.registry.FindByJob(7) == nil
	}))
	teardowns := tool.callsTo(orchestrator.FnTeardown)
	assert.Equal(t, len(teardowns), 1)
	assert.Equal(t, argValue(teardowns[0], "--token"), "7")
	assert.Assert(t, hasArg(teardowns[0], "--hurry"))
}

func TestRecoverKeepsBufferOfLiveJob(t *testing.T) {
	m, sched, tool := newTestManager(t, nil)
	sched.addJob(JobInfo{JobID: 7, UserID: 500})
	primeInventory(tool,
		`{'sessions': [{'id': 3, 'token': '7', 'owner': 500, 'created': 1700000000}]}`,
		`{'instances': [{'id': 3, 'label': '7', 'capacity': {'bytes': 5368709120}}]}`)

	m.recover()

	m.Lock()
	defer m.Unlock()
	alloc := m.registry.FindByJob(7)
	assert.Assert(t, alloc != nil)
	assert.Equal(t, alloc.State, objects.StagedIn.String())
	assert.Equal(t, len(tool.callsTo(orchestrator.FnTeardown)), 0)
	// startup also probes the configuration inventory, once
	assert.Equal(t, len(tool.callsTo(orchestrator.FnShowConfigs)), 1)
}
