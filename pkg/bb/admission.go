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

	"go.uber.org/zap"

	"github.com/ninotreve/burstbuffer/pkg/bb/objects"
	"github.com/ninotreve/burstbuffer/pkg/log"
	"github.com/ninotreve/burstbuffer/pkg/metrics"
)

type admissionOutcome int

const (
	// admit: the demand fits right now.
	admit admissionOutcome = iota
	// deferredOverLimit: a hard cap or unknown resource blocks the
	// job; preemption can never resolve it.
	deferredOverLimit
	// deferredNoSpace: capacity is currently unavailable, retried
	// next cycle, possibly after preemption frees space.
	deferredNoSpace
)

// candidate is a preemptable allocation considered during one admission
// test. Never retained past the test.
type candidate struct {
	alloc *objects.Allocation
}

// testAdmission decides whether the job's buffer demand fits now.
// Caller holds the manager lock. With commit set, candidates needed to
// cover a space deficit are cancelled and their teardown enqueued in a
// hurry; the outcome stays deferredNoSpace and the caller retries once
// preemption has freed the space.
func (m *Manager) testAdmission(job *objects.JobBuffer, resv Reservations, commit bool) admissionOutcome {
	need := job.TotalBytes + job.PersistentCreateBytes()

	// hard caps first: a demand that cannot ever fit is never helped
	// by preemption
	if m.limits.UserLimit() > 0 && need > m.limits.UserLimit() {
		metrics.GetBurstBufferMetrics().IncDeferredOverLimit()
		return deferredOverLimit
	}
	if !m.limits.Test(objects.Attribution{Account: job.Account, Partition: job.Partition, QOS: job.QOS}, need) {
		metrics.GetBurstBufferMetrics().IncDeferredOverLimit()
		return deferredOverLimit
	}

	// granularity-rounded deficit per generic resource, counting the
	// space promised to admitted but not yet started jobs
	gresDeficit := make(map[string]int64, len(job.Gres))
	for _, spec := range job.Gres {
		pool := m.capacity.FindGres(spec.Name)
		if pool == nil {
			log.Log(log.Admission).Info("job requests an unknown generic resource",
				zap.Uint64("jobID", job.JobID),
				zap.String("gres", spec.Name))
			metrics.GetBurstBufferMetrics().IncDeferredOverLimit()
			return deferredOverLimit
		}
		rounded := pool.RoundCount(spec.Count)
		if rounded > pool.Total {
			metrics.GetBurstBufferMetrics().IncDeferredOverLimit()
			return deferredOverLimit
		}
		if deficit := rounded + resv.Gres[spec.Name] - pool.Free(); deficit > 0 {
			gresDeficit[spec.Name] = deficit
		}
	}

	spaceDeficit := need + resv.Bytes - m.capacity.FreeSpace()

	// the per user deficit is resolvable by revoking the same user's
	// own buffers, unlike the hard cap check above
	var userDeficit int64
	if limit := m.limits.UserLimit(); limit > 0 {
		userDeficit = m.limits.UserUsage(job.UserID) + need - limit
	}

	if spaceDeficit <= 0 && userDeficit <= 0 && len(gresDeficit) == 0 {
		metrics.GetBurstBufferMetrics().IncAdmitted()
		return admit
	}

	candidates, freeable, freeableUser, freeableGres := m.collectCandidates(job)

	if !covers(spaceDeficit, freeable) || !covers(userDeficit, freeableUser) {
		metrics.GetBurstBufferMetrics().IncDeferredNoSpace()
		return deferredNoSpace
	}
	for name, deficit := range gresDeficit {
		if freeableGres[name] < deficit {
			metrics.GetBurstBufferMetrics().IncDeferredNoSpace()
			return deferredNoSpace
		}
	}

	if commit {
		m.preemptLocked(job, candidates, spaceDeficit, userDeficit, gresDeficit)
	}
	metrics.GetBurstBufferMetrics().IncDeferredNoSpace()
	return deferredNoSpace
}

// collectCandidates scans for allocations held by jobs expected to
// start later than the requester and sums the slack revoking them
// would free.
func (m *Manager) collectCandidates(job *objects.JobBuffer) ([]candidate, int64, int64, map[string]int64) {
	var candidates []candidate
	var freeable, freeableUser int64
	freeableGres := make(map[string]int64)

	m.registry.ForEach(func(alloc *objects.Allocation) {
		if alloc.JobID == 0 || alloc.JobID == job.JobID || alloc.Cancelled {
			return
		}
		if !alloc.UseTime.After(job.StartTime) {
			return
		}
		candidates = append(candidates, candidate{alloc: alloc})
		freeable += alloc.Size
		if alloc.UserID == job.UserID {
			freeableUser += alloc.Size
		}
		for _, spec := range alloc.Gres {
			freeableGres[spec.Name] += spec.Count
		}
	})
	return candidates, freeable, freeableUser, freeableGres
}

// preemptLocked marks just enough candidates for hurried teardown to
// cover every deficit. Candidates are revoked longest-available first
// (latest use-time), preferring same-user deficits, then total space,
// then generic resources. A candidate's resources count toward a
// generic deficit only under an exact name match.
func (m *Manager) preemptLocked(job *objects.JobBuffer, candidates []candidate, spaceDeficit, userDeficit int64, gresDeficit map[string]int64) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].alloc.UseTime.After(candidates[j].alloc.UseTime)
	})

	remainingGres := make(map[string]int64, len(gresDeficit))
	for name, deficit := range gresDeficit {
		remainingGres[name] = deficit
	}
	preempted := 0

	for _, cand := range candidates {
		if spaceDeficit <= 0 && userDeficit <= 0 && exhausted(remainingGres) {
			break
		}
		needed := false
		if userDeficit > 0 && cand.alloc.UserID == job.UserID {
			needed = true
		} else if spaceDeficit > 0 {
			needed = true
		} else if !exhausted(remainingGres) {
			for _, spec := range cand.alloc.Gres {
				if remainingGres[spec.Name] > 0 {
					needed = true
					break
				}
			}
		}
		if !needed {
			continue
		}

		spaceDeficit -= cand.alloc.Size
		if cand.alloc.UserID == job.UserID {
			userDeficit -= cand.alloc.Size
		}
		for _, spec := range cand.alloc.Gres {
			if remaining, ok := remainingGres[spec.Name]; ok && remaining > 0 {
				credit := spec.Count
				if credit > remaining {
					credit = remaining
				}
				remainingGres[spec.Name] = remaining - credit
			}
		}

		cand.alloc.Cancelled = true
		preempted++
		log.Log(log.Admission).Info("preempting burst buffer",
			zap.Uint64("forJobID", job.JobID),
			zap.Uint64("victimJobID", cand.alloc.JobID),
			zap.String("name", cand.alloc.Name),
			zap.Int64("size", cand.alloc.Size))
		m.queueTeardownLocked(cand.alloc.JobID, cand.alloc.UserID, cand.alloc.Name, true)
	}
	metrics.GetBurstBufferMetrics().IncPreemptions(preempted)
}

func covers(deficit, freeable int64) bool {
	return deficit <= 0 || freeable >= deficit
}

func exhausted(remaining map[string]int64) bool {
	for _, deficit := range remaining {
		if deficit > 0 {
			return false
		}
	}
	return true
}
