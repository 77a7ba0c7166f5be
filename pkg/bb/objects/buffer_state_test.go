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

package objects

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestBufferStateHappyPath(t *testing.T) {
	job := NewJobBuffer(1001, 500)
	assert.Equal(t, Pending.String(), job.CurrentState())

	assert.NilError(t, job.HandleEvent(StageInBuffer))
	assert.Equal(t, StagingIn.String(), job.CurrentState())

	assert.NilError(t, job.HandleEvent(StagedInBuffer))
	assert.Equal(t, StagedIn.String(), job.CurrentState())

	assert.NilError(t, job.HandleEvent(RunBuffer))
	assert.Equal(t, Running.String(), job.CurrentState())

	assert.NilError(t, job.HandleEvent(StageOutBuffer))
	assert.Equal(t, StagingOut.String(), job.CurrentState())

	assert.NilError(t, job.HandleEvent(TeardownBuffer))
	assert.Equal(t, Teardown.String(), job.CurrentState())

	assert.NilError(t, job.HandleEvent(CompleteBuffer))
	assert.Assert(t, job.IsComplete())
}

func TestBufferStateTeardownFromAnywhere(t *testing.T) {
	for _, prep := range [][]bufferEvent{
		{StageInBuffer},
		{StageInBuffer, StagedInBuffer},
		{StageInBuffer, StagedInBuffer, RunBuffer},
		{StageInBuffer, StagedInBuffer, RunBuffer, StageOutBuffer},
	} {
		job := NewJobBuffer(1, 500)
		for _, event := range prep {
			assert.NilError(t, job.HandleEvent(event))
		}
		assert.NilError(t, job.HandleEvent(TeardownBuffer))
		assert.Equal(t, Teardown.String(), job.CurrentState())
	}
}

func TestBufferStateTeardownIdempotent(t *testing.T) {
	job := NewJobBuffer(1, 500)
	assert.NilError(t, job.HandleEvent(StageInBuffer))
	assert.NilError(t, job.HandleEvent(TeardownBuffer))
	assert.NilError(t, job.HandleEvent(TeardownBuffer))
	assert.Equal(t, Teardown.String(), job.CurrentState())
}

func TestBufferStateRejectsSkips(t *testing.T) {
	job := NewJobBuffer(1, 500)
	assert.Assert(t, job.HandleEvent(RunBuffer) != nil, "run from pending must be rejected")
	assert.Assert(t, job.HandleEvent(TeardownBuffer) != nil, "nothing to tear down while pending")
	assert.Equal(t, Pending.String(), job.CurrentState())
}

func TestSubRequestCreate(t *testing.T) {
	sub := NewSubRequest("scratch1", 1024, "striped", "scratch", false)
	assert.Equal(t, SubPending.String(), sub.CurrentState())
	assert.Assert(t, !sub.IsTerminal())

	assert.NilError(t, sub.HandleEvent(CreatePersistent))
	assert.Equal(t, SubAllocating.String(), sub.CurrentState())

	assert.NilError(t, sub.HandleEvent(CreatedPersistent))
	assert.Assert(t, sub.IsTerminal())
}

func TestSubRequestFailureReturnsToPending(t *testing.T) {
	sub := NewSubRequest("scratch1", 1024, "striped", "scratch", false)
	assert.NilError(t, sub.HandleEvent(CreatePersistent))
	assert.NilError(t, sub.HandleEvent(FailPersistent))
	assert.Equal(t, SubPending.String(), sub.CurrentState())

	destroy := NewSubRequest("scratch1", 0, "", "", true)
	assert.NilError(t, destroy.HandleEvent(DeletePersistent))
	assert.NilError(t, destroy.HandleEvent(FailPersistent))
	assert.Equal(t, SubPending.String(), destroy.CurrentState())
}

func TestActiveSubRequestsCountsAll(t *testing.T) {
	job := NewJobBuffer(1, 500)
	done := NewSubRequest("a", 1024, "", "", false)
	assert.NilError(t, done.HandleEvent(CreatePersistent))
	assert.NilError(t, done.HandleEvent(CreatedPersistent))
	pending := NewSubRequest("b", 1024, "", "", false)
	job.Persistent = []*SubRequest{done, pending}

	assert.Equal(t, 1, job.ActiveSubRequests(), "every sub-request must be evaluated")
	assert.Equal(t, int64(1024), job.PersistentCreateBytes())
}
