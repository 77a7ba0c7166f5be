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
	"go.uber.org/zap"

	"github.com/ninotreve/burstbuffer/pkg/common"
	"github.com/ninotreve/burstbuffer/pkg/common/configs"
	"github.com/ninotreve/burstbuffer/pkg/log"
)

// Attribution names the limit keys an allocation is charged against.
type Attribution struct {
	UserID    uint32
	Account   string
	Partition string
	QOS       string
}

// Limits tracks bytes currently allocated or reserved per user, account,
// partition and qos. Each axis carries an optional cap; an absent or
// non-positive cap leaves that axis unconstrained. Every Add is matched
// by exactly one Remove when the allocation terminates, the lifecycle
// driver enforces the pairing.
type Limits struct {
	userLimit      int64
	accountLimit   map[string]int64
	partitionLimit map[string]int64
	qosLimit       map[string]int64
	userUsage      map[uint32]int64
	accountUsage   map[string]int64
	partitionUsage map[string]int64
	qosUsage       map[string]int64
}

func NewLimits(conf *configs.Config) *Limits {
	return &Limits{
		userLimit:      conf.UserSizeLimitBytes,
		accountLimit:   conf.AccountLimitBytes,
		partitionLimit: conf.PartitionLimitBytes,
		qosLimit:       conf.QOSLimitBytes,
		userUsage:      make(map[uint32]int64),
		accountUsage:   make(map[string]int64),
		partitionUsage: make(map[string]int64),
		qosUsage:       make(map[string]int64),
	}
}

// Add charges size bytes against every axis of the attribution.
func (l *Limits) Add(attr Attribution, size int64) {
	if size == 0 {
		return
	}
	l.userUsage[attr.UserID] += size
	addUsage(l.accountUsage, attr.Account, size)
	addUsage(l.partitionUsage, attr.Partition, size)
	addUsage(l.qosUsage, attr.QOS, size)
}

// Remove releases size bytes from every axis of the attribution. Usage
// never drops below zero, an underflow means the pairing was broken and
// is logged rather than propagated.
func (l *Limits) Remove(attr Attribution, size int64) {
	if size == 0 {
		return
	}
	if l.userUsage[attr.UserID] < size {
		log.Log(log.Limits).Warn("usage underflow on release",
			zap.Uint32("userID", attr.UserID),
			zap.Int64("tracked", l.userUsage[attr.UserID]),
			zap.Int64("release", size))
	}
	removeUsage32(l.userUsage, attr.UserID, size)
	removeUsage(l.accountUsage, attr.Account, size)
	removeUsage(l.partitionUsage, attr.Partition, size)
	removeUsage(l.qosUsage, attr.QOS, size)
}

// Test reports whether charging size bytes would stay within every
// configured cap that governs the attribution.
func (l *Limits) Test(attr Attribution, size int64) bool {
	if l.userLimit > 0 && l.userUsage[attr.UserID]+size > l.userLimit {
		return false
	}
	if !within(l.accountLimit, l.accountUsage, attr.Account, size) {
		return false
	}
	if !within(l.partitionLimit, l.partitionUsage, attr.Partition, size) {
		return false
	}
	if !within(l.qosLimit, l.qosUsage, attr.QOS, size) {
		return false
	}
	return true
}

// UserUsage returns the bytes currently tracked for one user.
func (l *Limits) UserUsage(userID uint32) int64 {
	return l.userUsage[userID]
}

// UserLimit returns the per user byte cap, 0 when unconstrained.
func (l *Limits) UserLimit() int64 {
	return l.userLimit
}

// Usage returns a copy of the per user tracked bytes for reporting.
func (l *Limits) Usage() map[uint32]int64 {
	usage := make(map[uint32]int64, len(l.userUsage))
	for userID, size := range l.userUsage {
		usage[userID] = size
	}
	return usage
}

func addUsage(usage map[string]int64, key string, size int64) {
	if key == common.Empty {
		return
	}
	usage[key] += size
}

func removeUsage(usage map[string]int64, key string, size int64) {
	if key == common.Empty {
		return
	}
	usage[key] -= size
	if usage[key] <= 0 {
		delete(usage, key)
	}
}

func removeUsage32(usage map[uint32]int64, key uint32, size int64) {
	usage[key] -= size
	if usage[key] <= 0 {
		delete(usage, key)
	}
}

func within(limits map[string]int64, usage map[string]int64, key string, size int64) bool {
	limit, ok := limits[key]
	if !ok || limit <= 0 {
		return true
	}
	return usage[key]+size <= limit
}
