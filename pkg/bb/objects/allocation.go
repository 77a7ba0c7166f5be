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
	"time"
)

// Allocation is one granted buffer, either job scoped (JobID != 0) or a
// named persistent buffer (JobID == 0). Records are owned by the Registry
// and live until teardown completes and reconciliation confirms the
// orchestrator no longer knows the session.
type Allocation struct {
	Name      string
	JobID     uint64
	UserID    uint32
	Size      int64
	Account   string
	Partition string
	QOS       string
	Gres      []GresSpec

	CreateTime time.Time
	// UseTime is when the owning job is expected to need the buffer,
	// preemption revokes the longest-available candidates first.
	UseTime time.Time

	State     string
	Cancelled bool
	// UnseenCycles counts consecutive reconcile cycles in which the
	// orchestrator inventory did not report this buffer.
	UnseenCycles int
}

// Key returns the registry key for persistent and name based lookups.
func (a *Allocation) Key() AllocationKey {
	return AllocationKey{Name: a.Name, UserID: a.UserID}
}

func (a *Allocation) IsPersistent() bool {
	return a.JobID == 0
}

// AllocationKey identifies an allocation by name within one user's
// namespace. Two users may own same-named persistent buffers.
type AllocationKey struct {
	Name   string
	UserID uint32
}
