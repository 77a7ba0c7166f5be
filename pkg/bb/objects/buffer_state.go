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
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/ninotreve/burstbuffer/pkg/log"
)

const noTransition = "no transition"

// ----------------------------------
// buffer events
// ----------------------------------
type bufferEvent int

const (
	StageInBuffer bufferEvent = iota
	StagedInBuffer
	RunBuffer
	StageOutBuffer
	TeardownBuffer
	CompleteBuffer
)

func (be bufferEvent) String() string {
	return [...]string{"stageInBuffer", "stagedInBuffer", "runBuffer", "stageOutBuffer", "teardownBuffer", "completeBuffer"}[be]
}

// ----------------------------------
// buffer states
// ----------------------------------
type bufferState int

const (
	Pending bufferState = iota
	StagingIn
	StagedIn
	Running
	StagingOut
	Teardown
	Complete
)

func (bs bufferState) String() string {
	return [...]string{"Pending", "StagingIn", "StagedIn", "Running", "StagingOut", "Teardown", "Complete"}[bs]
}

// NewBufferState builds the per job lifecycle machine. Teardown is
// reachable from every non terminal state because a cancel or a worker
// failure forces cleanup regardless of phase.
func NewBufferState() *fsm.FSM {
	return fsm.NewFSM(
		Pending.String(), fsm.Events{
			{
				Name: StageInBuffer.String(),
				Src:  []string{Pending.String()},
				Dst:  StagingIn.String(),
			}, {
				Name: StagedInBuffer.String(),
				Src:  []string{StagingIn.String()},
				Dst:  StagedIn.String(),
			}, {
				Name: RunBuffer.String(),
				Src:  []string{StagedIn.String()},
				Dst:  Running.String(),
			}, {
				Name: StageOutBuffer.String(),
				Src:  []string{Running.String()},
				Dst:  StagingOut.String(),
			}, {
				Name: TeardownBuffer.String(),
				Src:  []string{StagingIn.String(), StagedIn.String(), Running.String(), StagingOut.String(), Teardown.String()},
				Dst:  Teardown.String(),
			}, {
				Name: CompleteBuffer.String(),
				Src:  []string{Teardown.String()},
				Dst:  Complete.String(),
			},
		},
		fsm.Callbacks{
			// The state machine is tightly tied to the JobBuffer object.
			//
			// The first argument must always be a JobBuffer. If this
			// precondition is not met, a runtime panic will occur.
			"enter_state": func(_ context.Context, event *fsm.Event) {
				job := event.Args[0].(*JobBuffer) //nolint:errcheck
				log.Log(log.Lifecycle).Info("buffer state transition",
					zap.Uint64("jobID", job.JobID),
					zap.String("source", event.Src),
					zap.String("destination", event.Dst),
					zap.String("event", event.Event))
			},
		},
	)
}

// ----------------------------------
// persistent sub-request events
// ----------------------------------
type subRequestEvent int

const (
	CreatePersistent subRequestEvent = iota
	CreatedPersistent
	DeletePersistent
	DeletedPersistent
	FailPersistent
)

func (se subRequestEvent) String() string {
	return [...]string{"createPersistent", "createdPersistent", "deletePersistent", "deletedPersistent", "failPersistent"}[se]
}

// ----------------------------------
// persistent sub-request states
// ----------------------------------
type subRequestState int

const (
	SubPending subRequestState = iota
	SubAllocating
	SubAllocated
	SubDeleting
	SubDeleted
)

func (ss subRequestState) String() string {
	return [...]string{"Pending", "Allocating", "Allocated", "Deleting", "Deleted"}[ss]
}

// NewSubRequestState builds the machine for one persistent buffer
// create or destroy directive. A failed tool call returns the request
// to Pending so the reservation can be released and retried.
func NewSubRequestState() *fsm.FSM {
	return fsm.NewFSM(
		SubPending.String(), fsm.Events{
			{
				Name: CreatePersistent.String(),
				Src:  []string{SubPending.String()},
				Dst:  SubAllocating.String(),
			}, {
				Name: CreatedPersistent.String(),
				Src:  []string{SubAllocating.String()},
				Dst:  SubAllocated.String(),
			}, {
				Name: DeletePersistent.String(),
				Src:  []string{SubPending.String()},
				Dst:  SubDeleting.String(),
			}, {
				Name: DeletedPersistent.String(),
				Src:  []string{SubDeleting.String()},
				Dst:  SubDeleted.String(),
			}, {
				Name: FailPersistent.String(),
				Src:  []string{SubAllocating.String(), SubDeleting.String()},
				Dst:  SubPending.String(),
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, event *fsm.Event) {
				sub := event.Args[0].(*SubRequest) //nolint:errcheck
				log.Log(log.Lifecycle).Info("persistent sub-request state transition",
					zap.String("name", sub.Name),
					zap.String("source", event.Src),
					zap.String("destination", event.Dst),
					zap.String("event", event.Event))
			},
		},
	)
}
