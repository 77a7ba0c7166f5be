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
	"time"
)

// JobInfo is the slice of a scheduler job record the controller reads.
type JobInfo struct {
	JobID     uint64
	UserID    uint32
	Account   string
	Partition string
	QOS       string

	// Script is the batch script text; empty for interactive jobs,
	// which carry their demand in BurstBuffer instead.
	Script      string
	BurstBuffer string

	NodeCount int64
	Nodes     []string

	// ExpectedStart orders jobs for the preemption candidate scan.
	ExpectedStart time.Time
	Privileged    bool
}

// Reservations is the space already promised to admitted but not yet
// started jobs whose execution windows overlap the requester's.
type Reservations struct {
	Bytes int64
	Gres  map[string]int64
}

// Scheduler is the controller's collaborator surface into the job
// scheduler. Its lock is always acquired before the controller mutex;
// workers needing job records take both in that order.
type Scheduler interface {
	// LockJobs and UnlockJobs bracket any access to job records.
	LockJobs()
	UnlockJobs()

	JobExists(jobID uint64) bool
	Job(jobID uint64) (JobInfo, bool)

	// HoldJob attaches a failure reason and blocks rescheduling.
	HoldJob(jobID uint64, reason string)
	// KickScheduler asks for a prompt re-evaluation of start
	// eligibility after a stage-in completes.
	KickScheduler()
	// SetJobEnv appends key=value pairs to the job's environment.
	SetJobEnv(jobID uint64, env []string)

	// Reservations reports space promised to admitted jobs that
	// overlap the given job's anticipated window.
	Reservations(jobID uint64) Reservations

	IsPrivileged(userID uint32) bool
	// DefaultAttribution supplies account, partition and qos for
	// buffers discovered without metadata.
	DefaultAttribution(userID uint32) (account, partition, qos string)
}
