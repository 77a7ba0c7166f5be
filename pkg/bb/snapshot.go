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
	"sort"

	"github.com/ninotreve/burstbuffer/pkg/bb/objects"
)

// Snapshot is a point-in-time copy of the controller's state for
// reporting. Taken under the manager lock, safe to read without it.
type Snapshot struct {
	DefaultPool string
	Granularity int64
	TotalSpace  int64
	UsedSpace   int64
	Gres        []objects.GresPool

	Buffers []BufferStatus
	Usage   map[uint32]int64
}

// BufferStatus is one allocation's externally visible state.
type BufferStatus struct {
	Name       string
	JobID      uint64
	UserID     uint32
	Size       int64
	Account    string
	Partition  string
	QOS        string
	State      string
	CreateTime int64
	Cancelled  bool
	Persistent bool
}

// TakeSnapshot copies the current state for reporting.
func (m *Manager) TakeSnapshot() Snapshot {
	m.Lock()
	defer m.Unlock()

	snapshot := Snapshot{
		DefaultPool: m.capacity.DefaultPool,
		Granularity: m.capacity.Granularity,
		TotalSpace:  m.capacity.TotalSpace,
		UsedSpace:   m.capacity.UsedSpace,
		Usage:       m.limits.Usage(),
	}
	for _, pool := range m.capacity.Gres {
		snapshot.Gres = append(snapshot.Gres, *pool)
	}
	m.registry.ForEach(func(alloc *objects.Allocation) {
		snapshot.Buffers = append(snapshot.Buffers, BufferStatus{
			Name:       alloc.Name,
			JobID:      alloc.JobID,
			UserID:     alloc.UserID,
			Size:       alloc.Size,
			Account:    alloc.Account,
			Partition:  alloc.Partition,
			QOS:        alloc.QOS,
			State:      alloc.State,
			CreateTime: alloc.CreateTime.Unix(),
			Cancelled:  alloc.Cancelled,
			Persistent: alloc.IsPersistent(),
		})
	})
	sort.Slice(snapshot.Buffers, func(i, j int) bool {
		return snapshot.Buffers[i].Name < snapshot.Buffers[j].Name
	})
	return snapshot
}
