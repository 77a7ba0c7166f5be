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
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ninotreve/burstbuffer/pkg/bb/objects"
	"github.com/ninotreve/burstbuffer/pkg/bb/request"
	"github.com/ninotreve/burstbuffer/pkg/common"
	"github.com/ninotreve/burstbuffer/pkg/common/configs"
	"github.com/ninotreve/burstbuffer/pkg/locking"
	"github.com/ninotreve/burstbuffer/pkg/log"
	"github.com/ninotreve/burstbuffer/pkg/orchestrator"
)

// Manager is the burst buffer controller. All shared state behind it
// (registry, limits, capacity, job descriptor cache) is mutated only
// while holding its mutex. Entry points are called by the scheduler
// with the scheduler's own job lock already held; workers re-acquire
// both locks in that same order before committing results.
type Manager struct {
	locking.Mutex

	conf      *configs.Config
	sched     Scheduler
	runner    orchestrator.Runner
	inventory *orchestrator.Client

	capacity *objects.Capacity
	limits   *objects.Limits
	registry *objects.Registry
	jobs     map[uint64]*objects.JobBuffer

	state *stateFile
	saved map[string]stateRecord
	dirs  *workDirs
	// dirty marks buffer metadata changed since the last persist.
	dirty bool

	stopReconciler chan struct{}
}

func NewManager(conf *configs.Config, sched Scheduler, runner orchestrator.Runner) *Manager {
	limits := objects.NewLimits(conf)
	return &Manager{
		conf:      conf,
		sched:     sched,
		runner:    runner,
		inventory: orchestrator.NewClient(runner, conf.OtherTimeout),
		capacity:  objects.NewCapacity(conf.DefaultPool, conf.GranularityBytes),
		limits:    limits,
		registry:  objects.NewRegistry(limits),
		jobs:      make(map[uint64]*objects.JobBuffer),
		state:     newStateFile(filepath.Join(conf.StateDir, "burst_buffer_state")),
		saved:     make(map[string]stateRecord),
		dirs:      newWorkDirs(conf.StateDir),
	}
}

// tokenForJob is the orchestrator token of a job scoped buffer.
func tokenForJob(jobID uint64) string {
	return strconv.FormatUint(jobID, 10)
}

// parseOptions builds the parse context for one job.
func (m *Manager) parseOptions(info JobInfo) request.Options {
	return request.Options{
		Granularity:      m.granularity(),
		EnablePersistent: m.conf.EnablePersistent || info.Privileged || m.sched.IsPrivileged(info.UserID),
		NodeCount:        info.NodeCount,
		UserID:           info.UserID,
	}
}

func (m *Manager) granularity() int64 {
	if m.capacity.Granularity > 0 {
		return m.capacity.Granularity
	}
	return m.conf.GranularityBytes
}

// parseRequest is the pure part of validation: script or interactive
// text to structured request.
func (m *Manager) parseRequest(info JobInfo) (*request.Request, error) {
	if info.Script != "" {
		return request.ParseBatchScript(info.Script, m.parseOptions(info))
	}
	return request.ParseInteractive(info.BurstBuffer, m.parseOptions(info))
}

// ValidateRequest checks a submission before the job is accepted:
// parses the request, applies permission rules and tests hard caps.
// A returned error rejects the submission immediately.
func (m *Manager) ValidateRequest(info JobInfo) (*request.Request, error) {
	req, err := m.parseRequest(info)
	if err != nil {
		return nil, err
	}
	if req.Empty() {
		return req, nil
	}
	if info.UserID == 0 {
		log.Log(log.BurstBuffer).Info("user root can not allocate burst buffers",
			zap.Uint64("jobID", info.JobID))
		return nil, fmt.Errorf("user root can not allocate burst buffers")
	}
	if !m.conf.UserAllowed(info.UserID) {
		return nil, fmt.Errorf("user %d lacks permission to use burst buffers", info.UserID)
	}

	m.Lock()
	defer m.Unlock()
	if !m.limits.Test(attributionFor(info), req.TotalBytes()) {
		return nil, fmt.Errorf("burst buffer request of %s exceeds a configured limit",
			common.FormatSize(req.TotalBytes()))
	}
	return req, nil
}

// ValidateJob is the secondary validation run once the job ID exists
// and the script file can be written: the tool's own script check plus
// generation of the job's environment file.
func (m *Manager) ValidateJob(info JobInfo) error {
	m.Lock()
	job, err := m.jobBufferLocked(info)
	m.Unlock()
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	scriptPath, err := m.writeJobScript(info)
	if err != nil {
		return err
	}

	output, status := m.runner.Run(context.Background(), orchestrator.FnJobProcess,
		[]string{"--job", scriptPath}, m.conf.ValidateTimeout)
	if !orchestrator.Succeeded(status) {
		return fmt.Errorf("burst buffer script rejected: %s", output)
	}

	pathFile := m.dirs.pathEnvPath(info.JobID)
	output, status = m.runner.Run(context.Background(), orchestrator.FnPaths,
		[]string{"--job", scriptPath, "--token", tokenForJob(info.JobID), "--pathfile", pathFile},
		m.conf.ValidateTimeout)
	if !orchestrator.Succeeded(status) {
		return fmt.Errorf("burst buffer path generation failed: %s", output)
	}
	if env := readEnvFile(pathFile); len(env) > 0 {
		m.sched.SetJobEnv(info.JobID, env)
	}
	return nil
}

// writeJobScript materializes the script the tool consumes, building a
// synthetic one for interactive jobs.
func (m *Manager) writeJobScript(info JobInfo) (string, error) {
	script := info.Script
	if script == "" {
		req, err := m.parseRequest(info)
		if err != nil {
			return "", err
		}
		script = request.BuildScript(req)
	}
	return m.dirs.writeScript(info.JobID, script)
}

// EstimateStartTime predicts when the job's buffer demand could be
// satisfied: now when admissible, about a year out when a hard cap
// blocks it, and past current buffer activity otherwise.
func (m *Manager) EstimateStartTime(info JobInfo) time.Time {
	now := time.Now()
	m.Lock()
	defer m.Unlock()

	job, err := m.jobBufferLocked(info)
	if err != nil || job == nil {
		return now
	}
	switch m.testAdmission(job, m.sched.Reservations(info.JobID), false) {
	case admit:
		return now
	case deferredOverLimit:
		return now.AddDate(1, 0, 0)
	default:
		// push past the latest known use of currently held buffers
		latest := now.Add(time.Hour)
		m.registry.ForEach(func(alloc *objects.Allocation) {
			if alloc.UseTime.After(latest) {
				latest = alloc.UseTime
			}
		})
		return latest
	}
}

// TryStageIn walks the ready queue in expected start order and admits
// what fits. A hard cap defers only that job; exhausted space stops the
// scan, no later-starting job can fit either.
func (m *Manager) TryStageIn(infos []JobInfo) {
	sorted := make([]JobInfo, len(infos))
	copy(sorted, infos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExpectedStart.Before(sorted[j].ExpectedStart)
	})

	m.Lock()
	defer m.Unlock()
	for _, info := range sorted {
		job, err := m.jobBufferLocked(info)
		if err != nil || job == nil {
			continue
		}
		if job.IsHeld() || !job.IsPending() {
			continue
		}
		switch m.testAdmission(job, m.sched.Reservations(info.JobID), true) {
		case admit:
			if err = m.startStageInLocked(info, job); err != nil {
				log.Log(log.BurstBuffer).Error("failed to start stage-in",
					zap.Uint64("jobID", info.JobID),
					zap.Error(err))
			}
		case deferredOverLimit:
			continue
		case deferredNoSpace:
			return
		}
	}
}

// startStageInLocked commits an admission: grants the ephemeral
// allocation and dispatches the workers for this job's phases.
func (m *Manager) startStageInLocked(info JobInfo, job *objects.JobBuffer) error {
	if err := job.HandleEvent(objects.StageInBuffer); err != nil {
		return err
	}

	if job.TotalBytes > 0 {
		alloc := &objects.Allocation{
			Name:       tokenForJob(info.JobID),
			JobID:      info.JobID,
			UserID:     info.UserID,
			Size:       job.TotalBytes,
			Account:    info.Account,
			Partition:  info.Partition,
			QOS:        info.QOS,
			Gres:       job.Gres,
			CreateTime: time.Now(),
			UseTime:    info.ExpectedStart,
			State:      objects.StagingIn.String(),
		}
		if err := m.registry.Insert(alloc); err != nil {
			return err
		}
		m.capacity.Grant(alloc.Size, alloc.Gres)
		m.dirty = true
		go m.runStageIn(info, job.TotalBytes)
	}

	for _, sub := range job.Persistent {
		if sub.Destroy {
			if err := m.startDestroyLocked(info, job, sub); err != nil {
				return err
			}
		} else {
			if err := m.startCreateLocked(info, job, sub); err != nil {
				return err
			}
		}
	}

	if job.TotalBytes == 0 && job.ActiveSubRequests() == 0 {
		// nothing to stage, the buffer demand is already settled
		return job.HandleEvent(objects.StagedInBuffer)
	}
	return nil
}

// TestStageIn reports whether the job's buffers are ready for launch.
func (m *Manager) TestStageIn(jobID uint64) bool {
	m.Lock()
	defer m.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		// no descriptor means no buffer demand
		return true
	}
	return job.CurrentState() == objects.StagedIn.String() && job.ActiveSubRequests() == 0
}

// BeginRun is called when the scheduler launches the job: it records
// the compute nodes and prepares the buffer for access.
func (m *Manager) BeginRun(info JobInfo) error {
	m.Lock()
	defer m.Unlock()
	job, ok := m.jobs[info.JobID]
	if !ok {
		return nil
	}
	if job.ActiveSubRequests() > 0 {
		return fmt.Errorf("job %d still has pending persistent buffer work", info.JobID)
	}
	if err := job.HandleEvent(objects.RunBuffer); err != nil {
		return err
	}
	if job.TotalBytes == 0 {
		return nil
	}
	nodesPath, err := m.dirs.writeClientNodes(info.JobID, info.Nodes)
	if err != nil {
		return err
	}
	go m.runPreRun(info, nodesPath)
	return nil
}

// StartStageOut is called when the job finishes. A buffer that never
// moved data goes straight to teardown; anything interrupted before
// running is cleaned up in a hurry.
func (m *Manager) StartStageOut(jobID uint64, userID uint32) {
	m.Lock()
	defer m.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return
	}
	switch job.CurrentState() {
	case objects.Pending.String():
		// never admitted, nothing to revoke
		delete(m.jobs, jobID)
	case objects.Running.String():
		if err := job.HandleEvent(objects.StageOutBuffer); err != nil {
			log.Log(log.Lifecycle).Error("failed to start stage-out",
				zap.Uint64("jobID", jobID),
				zap.Error(err))
			return
		}
		if job.TotalBytes == 0 {
			m.queueTeardownLocked(jobID, userID, tokenForJob(jobID), false)
			return
		}
		go m.runStageOut(jobID, userID)
	default:
		m.queueTeardownLocked(jobID, userID, tokenForJob(jobID), true)
	}
}

// TestStageOut reports whether the job's buffer activity has fully
// settled, including teardown.
func (m *Manager) TestStageOut(jobID uint64) bool {
	m.Lock()
	defer m.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return true
	}
	return job.IsComplete()
}

// Cancel revokes a job's buffers regardless of phase, always in a
// hurry. A pending job has nothing to revoke and just drops its
// descriptor.
func (m *Manager) Cancel(jobID uint64, userID uint32) {
	m.Lock()
	defer m.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return
	}
	if job.IsPending() {
		delete(m.jobs, jobID)
		return
	}
	if alloc := m.registry.FindByJob(jobID); alloc != nil {
		alloc.Cancelled = true
	}
	m.queueTeardownLocked(jobID, userID, tokenForJob(jobID), true)
}

// TranslateRequestSize reports the job's total buffer demand in MB for
// scheduler accounting.
func (m *Manager) TranslateRequestSize(info JobInfo) int64 {
	m.Lock()
	defer m.Unlock()
	job, err := m.jobBufferLocked(info)
	if err != nil || job == nil {
		return 0
	}
	return (job.TotalBytes + job.PersistentCreateBytes() + common.MiB - 1) / common.MiB
}

// SystemSize reports total and used bytes of the default pool.
func (m *Manager) SystemSize() (total, used int64) {
	m.Lock()
	defer m.Unlock()
	return m.capacity.TotalSpace, m.capacity.UsedSpace
}

// jobBufferLocked returns the cached descriptor for a job, parsing and
// caching it on first reference. A nil descriptor means the job has no
// buffer demand.
func (m *Manager) jobBufferLocked(info JobInfo) (*objects.JobBuffer, error) {
	if job, ok := m.jobs[info.JobID]; ok {
		return job, nil
	}
	req, err := m.parseRequest(info)
	if err != nil {
		return nil, err
	}
	if req.Empty() {
		return nil, nil
	}
	job := objects.NewJobBuffer(info.JobID, info.UserID)
	job.Account = info.Account
	job.Partition = info.Partition
	job.QOS = info.QOS
	job.TotalBytes = req.JobBytes
	job.SwapBytes = req.SwapGiB * common.GiB * req.SwapNodes
	job.NodeCount = int32(info.NodeCount)
	job.Gres = req.Gres
	job.StartTime = info.ExpectedStart
	for _, directive := range req.Persistent {
		sub := objects.NewSubRequest(directive.Name, directive.Size, directive.Access, directive.Type, directive.Destroy)
		sub.Hurry = directive.Hurry
		job.Persistent = append(job.Persistent, sub)
	}
	m.jobs[info.JobID] = job
	return job, nil
}

func attributionFor(info JobInfo) objects.Attribution {
	return objects.Attribution{
		UserID:    info.UserID,
		Account:   info.Account,
		Partition: info.Partition,
		QOS:       info.QOS,
	}
}
