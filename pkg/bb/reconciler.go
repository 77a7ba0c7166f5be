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
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ninotreve/burstbuffer/pkg/bb/objects"
	"github.com/ninotreve/burstbuffer/pkg/log"
	"github.com/ninotreve/burstbuffer/pkg/metrics"
)

// staleCycles is the number of consecutive reconcile cycles a tracked
// buffer may go unreported before it is purged.
const staleCycles = 2

// Start recovers state from the durable snapshot and the orchestrator,
// purges vestigial job buffers, and launches the periodic
// reconciliation loop.
func (m *Manager) Start() {
	m.recover()

	m.Lock()
	m.stopReconciler = make(chan struct{})
	stop := m.stopReconciler
	m.Unlock()

	go func() {
		ticker := time.NewTicker(m.conf.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				log.Log(log.Reconciler).Info("reconciliation loop stopped")
				return
			case <-ticker.C:
				m.reconcile()
			}
		}
	}()
	log.Log(log.Reconciler).Info("reconciliation loop started",
		zap.Duration("interval", m.conf.ReconcileInterval))
}

func (m *Manager) Stop() {
	m.Lock()
	defer m.Unlock()
	if m.stopReconciler != nil {
		close(m.stopReconciler)
		m.stopReconciler = nil
	}
}

// recover runs once at startup: reads the metadata snapshot, performs
// an initial reconcile to adopt live sessions, and queues teardown for
// job buffers whose job no longer exists.
func (m *Manager) recover() {
	records, err := m.state.load()
	if err != nil {
		log.Log(log.Reconciler).Error("failed to load state snapshot",
			zap.Error(err))
	}
	m.Lock()
	m.saved = make(map[string]stateRecord, len(records))
	for _, record := range records {
		m.saved[record.Name] = record
	}
	m.Unlock()

	m.reconcile()

	// configurations carry no data the controller consumes; the fetch
	// confirms the orchestrator answers its full inventory surface and
	// the count is logged for operators.
	if configs, cfgErr := m.inventory.Configurations(context.Background()); cfgErr != nil {
		log.Log(log.Reconciler).Info("failed to load configurations",
			zap.Error(cfgErr))
	} else {
		log.Log(log.Reconciler).Debug("loaded configuration inventory",
			zap.Int("count", len(configs)))
	}

	m.sched.LockJobs()
	defer m.sched.UnlockJobs()
	m.Lock()
	defer m.Unlock()
	var vestigial []*objects.Allocation
	m.registry.ForEach(func(alloc *objects.Allocation) {
		if alloc.JobID != 0 && !m.sched.JobExists(alloc.JobID) {
			vestigial = append(vestigial, alloc)
		}
	})
	for _, alloc := range vestigial {
		log.Log(log.Reconciler).Info("queueing teardown of vestigial buffer",
			zap.Uint64("jobID", alloc.JobID),
			zap.String("name", alloc.Name))
		alloc.Cancelled = true
		m.queueTeardownLocked(alloc.JobID, alloc.UserID, alloc.Name, true)
	}
}

// reconcile is one cycle: refresh capacity and sessions from the
// orchestrator, adopt unknown sessions, age out unreported buffers and
// persist metadata when it changed.
func (m *Manager) reconcile() {
	start := time.Now()
	ctx := context.Background()

	pools, err := m.inventory.Pools(ctx)
	if err != nil {
		log.Log(log.Reconciler).Error("failed to load pool inventory", zap.Error(err))
		return
	}
	sessions, err := m.inventory.Sessions(ctx)
	if err != nil {
		log.Log(log.Reconciler).Error("failed to load sessions", zap.Error(err))
		return
	}
	instances, err := m.inventory.Instances(ctx)
	if err != nil {
		log.Log(log.Reconciler).Error("failed to load instances", zap.Error(err))
		return
	}

	sizeByLabel := make(map[string]int64, len(instances))
	for _, instance := range instances {
		sizeByLabel[instance.Label] += instance.Capacity.Bytes
	}

	m.sched.LockJobs()
	m.Lock()

	m.capacity.Refresh(pools)

	seen := make(map[objects.AllocationKey]bool, len(sessions))
	discovered := 0
	for _, session := range sessions {
		if alloc := m.registry.FindByName(session.Token, session.OwnerID); alloc != nil {
			alloc.UnseenCycles = 0
			seen[alloc.Key()] = true
			continue
		}
		alloc := m.adoptSessionLocked(session.Token, session.OwnerID, sizeByLabel[session.Token], session.Created)
		if alloc != nil {
			seen[alloc.Key()] = true
			discovered++
		}
	}
	if discovered > 0 {
		metrics.GetBurstBufferMetrics().IncOrphanedSessions(discovered)
	}

	// age out tracked buffers the orchestrator stopped reporting
	var stale []*objects.Allocation
	m.registry.ForEach(func(alloc *objects.Allocation) {
		if seen[alloc.Key()] {
			return
		}
		alloc.UnseenCycles++
		if alloc.UnseenCycles >= staleCycles {
			stale = append(stale, alloc)
		}
	})
	for _, alloc := range stale {
		log.Log(log.Reconciler).Info("purging stale buffer record",
			zap.String("name", alloc.Name),
			zap.Uint64("jobID", alloc.JobID),
			zap.Int("unseenCycles", alloc.UnseenCycles))
		m.registry.Remove(alloc)
		m.dirty = true
	}

	m.publishMetricsLocked()
	if m.dirty {
		if err = m.saveStateLocked(); err != nil {
			log.Log(log.Reconciler).Error("failed to persist state snapshot",
				zap.Error(err))
		} else {
			m.dirty = false
		}
	}

	m.Unlock()
	m.sched.UnlockJobs()
	metrics.GetBurstBufferMetrics().ObserveReconcileLatency(start)
}

// adoptSessionLocked tracks a session this controller did not create.
// Attribution the orchestrator cannot retain comes from the snapshot,
// then from another buffer of the same user, then from scheduler
// defaults.
func (m *Manager) adoptSessionLocked(token string, ownerID uint32, size int64, created int64) *objects.Allocation {
	alloc := &objects.Allocation{
		Name:       token,
		UserID:     ownerID,
		Size:       size,
		CreateTime: time.Unix(created, 0),
		State:      objects.SubAllocated.String(),
	}
	if jobID, err := strconv.ParseUint(token, 10, 64); err == nil {
		alloc.JobID = jobID
		alloc.State = objects.StagedIn.String()
	}

	if record, ok := m.saved[token]; ok && record.UserID == ownerID {
		alloc.Account = record.Account
		alloc.Partition = record.Partition
		alloc.QOS = record.QOS
		if size == 0 {
			alloc.Size = record.Size
		}
	} else if sibling := m.findUserBufferLocked(ownerID); sibling != nil {
		alloc.Account = sibling.Account
		alloc.Partition = sibling.Partition
		alloc.QOS = sibling.QOS
	} else {
		alloc.Account, alloc.Partition, alloc.QOS = m.sched.DefaultAttribution(ownerID)
	}

	if err := m.registry.Insert(alloc); err != nil {
		log.Log(log.Reconciler).Warn("failed to adopt discovered session",
			zap.String("token", token),
			zap.Error(err))
		return nil
	}
	log.Log(log.Reconciler).Info("adopted discovered session",
		zap.String("token", token),
		zap.Uint32("ownerID", ownerID),
		zap.Int64("size", alloc.Size))
	m.dirty = true
	return alloc
}

func (m *Manager) findUserBufferLocked(userID uint32) *objects.Allocation {
	var found *objects.Allocation
	m.registry.ForEach(func(alloc *objects.Allocation) {
		if found == nil && alloc.UserID == userID && alloc.Account != "" {
			found = alloc
		}
	})
	return found
}

// saveStateLocked persists the metadata tuples for all persistent
// buffers. Job scoped buffers are rebuilt from their scripts instead.
func (m *Manager) saveStateLocked() error {
	var records []stateRecord
	m.registry.ForEach(func(alloc *objects.Allocation) {
		if !alloc.IsPersistent() {
			return
		}
		records = append(records, stateRecord{
			Account:    alloc.Account,
			CreateTime: alloc.CreateTime.Unix(),
			Name:       alloc.Name,
			Partition:  alloc.Partition,
			QOS:        alloc.QOS,
			UserID:     alloc.UserID,
			Size:       alloc.Size,
		})
	})
	if err := m.state.save(records); err != nil {
		return err
	}
	m.saved = make(map[string]stateRecord, len(records))
	for _, record := range records {
		m.saved[record.Name] = record
	}
	return nil
}

func (m *Manager) publishMetricsLocked() {
	bbMetrics := metrics.GetBurstBufferMetrics()
	bbMetrics.SetPoolSpace(m.capacity.DefaultPool, m.capacity.TotalSpace, m.capacity.UsedSpace)
	jobBuffers, persistent := 0, 0
	m.registry.ForEach(func(alloc *objects.Allocation) {
		if alloc.IsPersistent() {
			persistent++
		} else {
			jobBuffers++
		}
	})
	bbMetrics.SetJobAllocations(jobBuffers)
	bbMetrics.SetPersistentAllocations(persistent)
}
