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

package defaults

import (
	"go.uber.org/zap"

	"github.com/ninotreve/burstbuffer/pkg/bb"
	"github.com/ninotreve/burstbuffer/pkg/locking"
	"github.com/ninotreve/burstbuffer/pkg/log"
)

// StandaloneScheduler is the collaborator used when no embedding job
// scheduler registers. It keeps an in-memory job table so the
// controller can run on its own, mainly for development and tests.
type StandaloneScheduler struct {
	jobs   map[uint64]bb.JobInfo
	held   map[uint64]string
	env    map[uint64][]string
	defQOS string

	locking.RWMutex
}

func NewStandaloneScheduler() *StandaloneScheduler {
	return &StandaloneScheduler{
		jobs:   make(map[uint64]bb.JobInfo),
		held:   make(map[uint64]string),
		env:    make(map[uint64][]string),
		defQOS: "normal",
	}
}

// AddJob makes a job record visible to the controller.
func (s *StandaloneScheduler) AddJob(info bb.JobInfo) {
	s.Lock()
	defer s.Unlock()
	s.jobs[info.JobID] = info
}

// RemoveJob drops a job record.
func (s *StandaloneScheduler) RemoveJob(jobID uint64) {
	s.Lock()
	defer s.Unlock()
	delete(s.jobs, jobID)
	delete(s.held, jobID)
	delete(s.env, jobID)
}

// HeldReason reports the hold reason attached to a job, empty when the
// job is not held.
func (s *StandaloneScheduler) HeldReason(jobID uint64) string {
	s.RLock()
	defer s.RUnlock()
	return s.held[jobID]
}

// JobEnv reports the environment pairs attached to a job.
func (s *StandaloneScheduler) JobEnv(jobID uint64) []string {
	s.RLock()
	defer s.RUnlock()
	return s.env[jobID]
}

func (s *StandaloneScheduler) LockJobs()   {}
func (s *StandaloneScheduler) UnlockJobs() {}

func (s *StandaloneScheduler) JobExists(jobID uint64) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.jobs[jobID]
	return ok
}

func (s *StandaloneScheduler) Job(jobID uint64) (bb.JobInfo, bool) {
	s.RLock()
	defer s.RUnlock()
	info, ok := s.jobs[jobID]
	return info, ok
}

func (s *StandaloneScheduler) HoldJob(jobID uint64, reason string) {
	s.Lock()
	defer s.Unlock()
	log.Log(log.BurstBuffer).Info("holding job",
		zap.Uint64("jobID", jobID),
		zap.String("reason", reason))
	s.held[jobID] = reason
}

func (s *StandaloneScheduler) KickScheduler() {}

func (s *StandaloneScheduler) SetJobEnv(jobID uint64, env []string) {
	s.Lock()
	defer s.Unlock()
	s.env[jobID] = append(s.env[jobID], env...)
}

func (s *StandaloneScheduler) Reservations(jobID uint64) bb.Reservations {
	return bb.Reservations{}
}

func (s *StandaloneScheduler) IsPrivileged(userID uint32) bool {
	return userID == 0
}

func (s *StandaloneScheduler) DefaultAttribution(userID uint32) (string, string, string) {
	return "", "", s.defQOS
}
