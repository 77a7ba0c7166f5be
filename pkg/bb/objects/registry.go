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
	"fmt"
)

// Registry owns every live Allocation. Records are indexed by
// (name, userID) and, for job scoped buffers, by jobID. Insert and
// Remove charge and release the limit tracker so the two structures
// never diverge.
type Registry struct {
	byName map[AllocationKey]*Allocation
	byJob  map[uint64]*Allocation
	limits *Limits
}

func NewRegistry(limits *Limits) *Registry {
	return &Registry{
		byName: make(map[AllocationKey]*Allocation),
		byJob:  make(map[uint64]*Allocation),
		limits: limits,
	}
}

func (r *Registry) FindByName(name string, userID uint32) *Allocation {
	return r.byName[AllocationKey{Name: name, UserID: userID}]
}

// FindByNameAnyUser returns the first allocation with the given name
// regardless of owner. Destroy permission checks need the owner before
// the caller's identity is known to match.
func (r *Registry) FindByNameAnyUser(name string) *Allocation {
	for key, alloc := range r.byName {
		if key.Name == name {
			return alloc
		}
	}
	return nil
}

func (r *Registry) FindByJob(jobID uint64) *Allocation {
	return r.byJob[jobID]
}

// Insert adds an allocation and charges its size against the limits.
func (r *Registry) Insert(alloc *Allocation) error {
	key := alloc.Key()
	if _, ok := r.byName[key]; ok {
		return fmt.Errorf("allocation %q for user %d already exists", alloc.Name, alloc.UserID)
	}
	if alloc.JobID != 0 {
		if _, ok := r.byJob[alloc.JobID]; ok {
			return fmt.Errorf("job %d already holds an allocation", alloc.JobID)
		}
	}
	r.byName[key] = alloc
	if alloc.JobID != 0 {
		r.byJob[alloc.JobID] = alloc
	}
	r.limits.Add(attributionOf(alloc), alloc.Size)
	return nil
}

// Remove drops an allocation and releases its limit charge. Removing an
// absent record is a no-op so that teardown stays idempotent.
func (r *Registry) Remove(alloc *Allocation) {
	key := alloc.Key()
	if _, ok := r.byName[key]; !ok {
		return
	}
	delete(r.byName, key)
	if alloc.JobID != 0 {
		delete(r.byJob, alloc.JobID)
	}
	r.limits.Remove(attributionOf(alloc), alloc.Size)
}

// ForEach visits every allocation. The visitor must not insert or
// remove records.
func (r *Registry) ForEach(visit func(*Allocation)) {
	for _, alloc := range r.byName {
		visit(alloc)
	}
}

func (r *Registry) Len() int {
	return len(r.byName)
}

func attributionOf(alloc *Allocation) Attribution {
	return Attribution{
		UserID:    alloc.UserID,
		Account:   alloc.Account,
		Partition: alloc.Partition,
		QOS:       alloc.QOS,
	}
}
