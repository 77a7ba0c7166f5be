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
	"github.com/ninotreve/burstbuffer/pkg/common"
	"github.com/ninotreve/burstbuffer/pkg/orchestrator"
)

// GresPool is a named countable resource pool (node classes and similar).
// Quantities are counted in units of the pool's granularity.
type GresPool struct {
	Name        string
	Granularity int64
	Total       int64
	Used        int64
}

func (g *GresPool) Free() int64 {
	return g.Total - g.Used
}

// RoundCount rounds a demand up to whole granules of this pool. Every
// count charged against the pool goes through here so admission testing
// and grant accounting cannot diverge.
func (g *GresPool) RoundCount(count int64) int64 {
	return common.RoundUpToGranularity(count, g.Granularity)
}

// Capacity holds the in-memory view of the storage the orchestrator manages:
// the default byte pool plus any generic resource pools. It is replaced
// wholesale on every inventory refresh and adjusted incrementally as
// allocations are granted and released between refreshes.
type Capacity struct {
	DefaultPool string
	Granularity int64
	TotalSpace  int64
	UsedSpace   int64
	Gres        []*GresPool
}

func NewCapacity(defaultPool string, fallbackGranularity int64) *Capacity {
	granularity := fallbackGranularity
	if granularity <= 0 {
		granularity = 1
	}
	return &Capacity{
		DefaultPool: defaultPool,
		Granularity: granularity,
	}
}

// Refresh replaces the capacity view from an inventory snapshot. The pool
// whose units are bytes and whose id matches the configured default pool
// becomes the byte pool, every other pool a generic resource. Counts from
// the orchestrator are in granularity units.
func (c *Capacity) Refresh(pools []orchestrator.Pool) {
	gres := make([]*GresPool, 0, len(pools))
	for _, pool := range pools {
		granularity := pool.Granularity
		if granularity <= 0 {
			granularity = 1
		}
		if pool.Units == "bytes" && pool.ID == c.DefaultPool {
			c.Granularity = granularity
			c.TotalSpace = pool.Quantity * granularity
			c.UsedSpace = (pool.Quantity - pool.Free) * granularity
			continue
		}
		gres = append(gres, &GresPool{
			Name:        pool.ID,
			Granularity: granularity,
			Total:       pool.Quantity,
			Used:        pool.Quantity - pool.Free,
		})
	}
	c.Gres = gres
}

func (c *Capacity) FindGres(name string) *GresPool {
	for _, pool := range c.Gres {
		if pool.Name == name {
			return pool
		}
	}
	return nil
}

func (c *Capacity) FreeSpace() int64 {
	return c.TotalSpace - c.UsedSpace
}

// RoundToGranularity rounds a byte size up to a whole number of the
// default pool's allocation units.
func (c *Capacity) RoundToGranularity(size int64) int64 {
	return common.RoundUpToGranularity(size, c.Granularity)
}

// Grant charges an allocation against the view until the next refresh.
func (c *Capacity) Grant(size int64, gres []GresSpec) {
	c.UsedSpace += size
	for _, spec := range gres {
		if pool := c.FindGres(spec.Name); pool != nil {
			pool.Used += pool.RoundCount(spec.Count)
		}
	}
}

// Release returns a granted allocation to the view.
func (c *Capacity) Release(size int64, gres []GresSpec) {
	c.UsedSpace -= size
	if c.UsedSpace < 0 {
		c.UsedSpace = 0
	}
	for _, spec := range gres {
		if pool := c.FindGres(spec.Name); pool != nil {
			pool.Used -= pool.RoundCount(spec.Count)
			if pool.Used < 0 {
				pool.Used = 0
			}
		}
	}
}

// GresSpec is one named generic resource demand attached to a request or
// an allocation.
type GresSpec struct {
	Name  string
	Count int64
}
