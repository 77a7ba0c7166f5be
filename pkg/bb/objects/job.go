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
	"time"

	"github.com/looplab/fsm"
)

// SubRequest is one persistent buffer directive carried by a job:
// either create a named buffer of a given size or destroy an existing
// one. Each directive advances through its own state machine driven by
// a dedicated worker.
type SubRequest struct {
	Name    string
	Size    int64
	Access  string
	Type    string
	Destroy bool
	Hurry   bool

	stateMachine *fsm.FSM
}

func NewSubRequest(name string, size int64, access, bufType string, destroy bool) *SubRequest {
	return &SubRequest{
		Name:         name,
		Size:         size,
		Access:       access,
		Type:         bufType,
		Destroy:      destroy,
		stateMachine: NewSubRequestState(),
	}
}

func (sr *SubRequest) HandleEvent(event subRequestEvent) error {
	err := sr.stateMachine.Event(context.Background(), event.String(), sr)
	// handle the same state transition not nil error (limit of fsm).
	if err != nil && err.Error() == noTransition {
		return nil
	}
	return err
}

func (sr *SubRequest) CurrentState() string {
	return sr.stateMachine.Current()
}

func (sr *SubRequest) IsTerminal() bool {
	current := sr.stateMachine.Current()
	return current == SubAllocated.String() || current == SubDeleted.String()
}

// JobBuffer is the cached, parsed burst buffer request of one job plus
// its lifecycle state. Created on first reference, destroyed only once
// the job's buffer activity has fully settled.
type JobBuffer struct {
	JobID     uint64
	UserID    uint32
	Account   string
	Partition string
	QOS       string

	// TotalBytes is the ephemeral demand rounded up to the pool
	// granularity; SwapBytes is already folded in.
	TotalBytes int64
	SwapBytes  int64
	NodeCount  int32
	Gres       []GresSpec
	Persistent []*SubRequest

	// StartTime is the scheduler's expected start, the proxy for
	// priority during preemption candidate scans.
	StartTime time.Time

	HoldReason string

	stateMachine *fsm.FSM
}

func NewJobBuffer(jobID uint64, userID uint32) *JobBuffer {
	return &JobBuffer{
		JobID:        jobID,
		UserID:       userID,
		stateMachine: NewBufferState(),
	}
}

func (jb *JobBuffer) HandleEvent(event bufferEvent) error {
	err := jb.stateMachine.Event(context.Background(), event.String(), jb)
	// handle the same state transition not nil error (limit of fsm).
	if err != nil && err.Error() == noTransition {
		return nil
	}
	return err
}

func (jb *JobBuffer) CurrentState() string {
	return jb.stateMachine.Current()
}

func (jb *JobBuffer) IsPending() bool {
	return jb.stateMachine.Current() == Pending.String()
}

func (jb *JobBuffer) IsComplete() bool {
	return jb.stateMachine.Current() == Complete.String()
}

// Attribution returns the limit keys this job's demand is charged to.
func (jb *JobBuffer) Attribution() Attribution {
	return Attribution{
		UserID:    jb.UserID,
		Account:   jb.Account,
		Partition: jb.Partition,
		QOS:       jb.QOS,
	}
}

// PersistentCreateBytes sums the sizes of all create directives that
// have not yet been granted. Admission charges these alongside the
// ephemeral demand.
func (jb *JobBuffer) PersistentCreateBytes() int64 {
	var total int64
	for _, sub := range jb.Persistent {
		if !sub.Destroy && sub.CurrentState() == SubPending.String() {
			total += sub.Size
		}
	}
	return total
}

// ActiveSubRequests counts directives that have not reached a terminal
// state. Every directive is evaluated; job level completion must never
// be decided from the first directive alone.
func (jb *JobBuffer) ActiveSubRequests() int {
	active := 0
	for _, sub := range jb.Persistent {
		if !sub.IsTerminal() {
			active++
		}
	}
	return active
}

// Hold records a human readable failure reason. A held job stays
// visible for manual intervention but is not rescheduled.
func (jb *JobBuffer) Hold(reason string) {
	jb.HoldReason = reason
}

func (jb *JobBuffer) IsHeld() bool {
	return jb.HoldReason != ""
}
