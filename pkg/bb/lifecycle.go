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
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ninotreve/burstbuffer/pkg/bb/objects"
	"github.com/ninotreve/burstbuffer/pkg/common"
	"github.com/ninotreve/burstbuffer/pkg/log"
	"github.com/ninotreve/burstbuffer/pkg/orchestrator"
)

// tokenNotFound in a teardown response marks an already-absent buffer.
// Teardown runs for every job that might have held one, so this is
// common and benign.
const tokenNotFound = "token not found"

// runStageIn is the worker for an admitted job: setup allocates the
// buffer, data_in populates it. Tool calls run without any lock held;
// results are committed under the scheduler lock then the manager lock.
func (m *Manager) runStageIn(info JobInfo, size int64) {
	opID := common.GetNewUUID()
	script := m.dirs.scriptPath(info.JobID)
	setupArgs := []string{
		"--token", tokenForJob(info.JobID),
		"--caller", "SLURM",
		"--user", strconv.FormatUint(uint64(info.UserID), 10),
		"--capacity", fmt.Sprintf("%s:%s", m.conf.DefaultPool, common.FormatSize(size)),
		"--job", script,
	}
	if len(info.Nodes) > 0 {
		if nodesPath, err := m.dirs.writeClientNodes(info.JobID, info.Nodes); err == nil {
			setupArgs = append(setupArgs, "--nodehostnamefile", nodesPath)
		}
	}

	output, status := m.runner.Run(context.Background(), orchestrator.FnSetup, setupArgs, m.conf.OtherTimeout)
	if !orchestrator.Succeeded(status) {
		m.failJob(info.JobID, info.UserID, opID, orchestrator.FnSetup, output, status)
		return
	}

	output, status = m.runner.Run(context.Background(), orchestrator.FnDataIn,
		[]string{"--token", tokenForJob(info.JobID), "--job", script},
		m.conf.StageInTimeout)
	if !orchestrator.Succeeded(status) {
		m.failJob(info.JobID, info.UserID, opID, orchestrator.FnDataIn, output, status)
		return
	}

	m.sched.LockJobs()
	defer m.sched.UnlockJobs()
	m.Lock()
	defer m.Unlock()
	job, ok := m.jobs[info.JobID]
	if !ok {
		log.Log(log.Lifecycle).Warn("job buffer vanished during stage-in",
			zap.Uint64("jobID", info.JobID),
			zap.String("opID", opID))
		return
	}
	if err := job.HandleEvent(objects.StagedInBuffer); err != nil {
		log.Log(log.Lifecycle).Error("stage-in completion rejected",
			zap.Uint64("jobID", info.JobID),
			zap.Error(err))
		return
	}
	if alloc := m.registry.FindByJob(info.JobID); alloc != nil {
		alloc.State = objects.StagedIn.String()
	}
	m.sched.KickScheduler()
}

// runPreRun prepares the staged buffer for compute access at launch.
func (m *Manager) runPreRun(info JobInfo, nodesPath string) {
	opID := common.GetNewUUID()
	output, status := m.runner.Run(context.Background(), orchestrator.FnPreRun,
		[]string{
			"--token", tokenForJob(info.JobID),
			"--job", m.dirs.scriptPath(info.JobID),
			"--nodehostnamefile", nodesPath,
		}, m.conf.OtherTimeout)
	if !orchestrator.Succeeded(status) {
		m.failJob(info.JobID, info.UserID, opID, orchestrator.FnPreRun, output, status)
	}
}

// runStageOut drains the buffer after the job finished: data_out then
// post_run, then a regular teardown.
func (m *Manager) runStageOut(jobID uint64, userID uint32) {
	opID := common.GetNewUUID()
	script := m.dirs.scriptPath(jobID)

	output, status := m.runner.Run(context.Background(), orchestrator.FnDataOut,
		[]string{"--token", tokenForJob(jobID), "--job", script},
		m.conf.StageOutTimeout)
	if !orchestrator.Succeeded(status) {
		m.failJob(jobID, userID, opID, orchestrator.FnDataOut, output, status)
		return
	}

	output, status = m.runner.Run(context.Background(), orchestrator.FnPostRun,
		[]string{"--token", tokenForJob(jobID), "--job", script},
		m.conf.OtherTimeout)
	if !orchestrator.Succeeded(status) {
		m.failJob(jobID, userID, opID, orchestrator.FnPostRun, output, status)
		return
	}

	m.sched.LockJobs()
	defer m.sched.UnlockJobs()
	m.Lock()
	defer m.Unlock()
	m.queueTeardownLocked(jobID, userID, tokenForJob(jobID), false)
}

// queueTeardownLocked forces the job's descriptor into teardown and
// dispatches the teardown worker. Caller holds the manager lock.
func (m *Manager) queueTeardownLocked(jobID uint64, userID uint32, token string, hurry bool) {
	if job, ok := m.jobs[jobID]; ok && !job.IsPending() {
		if err := job.HandleEvent(objects.TeardownBuffer); err != nil {
			log.Log(log.Lifecycle).Error("failed to enter teardown",
				zap.Uint64("jobID", jobID),
				zap.Error(err))
		}
	}
	go m.runTeardown(jobID, userID, token, hurry)
}

// runTeardown releases the buffer at the orchestrator and cleans up
// the job's scratch area. A "token not found" response means the buffer
// is already gone and counts as success.
func (m *Manager) runTeardown(jobID uint64, userID uint32, token string, hurry bool) {
	script, err := m.dirs.teardownScript(jobID)
	if err != nil {
		log.Log(log.Lifecycle).Error("failed to prepare teardown script",
			zap.Uint64("jobID", jobID),
			zap.Error(err))
		return
	}
	args := []string{"--token", token, "--job", script}
	if hurry {
		args = append(args, "--hurry")
	}
	output, status := m.runner.Run(context.Background(), orchestrator.FnTeardown, args, m.conf.OtherTimeout)
	if !orchestrator.Succeeded(status) && !strings.Contains(output, tokenNotFound) {
		log.Log(log.Lifecycle).Error("teardown failed",
			zap.Uint64("jobID", jobID),
			zap.String("token", token),
			zap.Int("status", status),
			zap.String("response", output))
		// left for the next reconcile cycle to re-discover
		return
	}

	m.sched.LockJobs()
	defer m.sched.UnlockJobs()
	m.Lock()
	defer m.Unlock()

	if alloc := m.registry.FindByName(token, userID); alloc != nil {
		m.registry.Remove(alloc)
		m.capacity.Release(alloc.Size, alloc.Gres)
		m.dirty = true
	}
	if err = m.dirs.purge(jobID); err != nil {
		log.Log(log.Lifecycle).Warn("failed to remove job directory",
			zap.Uint64("jobID", jobID),
			zap.Error(err))
	}
	if job, ok := m.jobs[jobID]; ok {
		if err = job.HandleEvent(objects.CompleteBuffer); err == nil && job.ActiveSubRequests() == 0 {
			delete(m.jobs, jobID)
		}
	}
}

// startCreateLocked reserves the persistent buffer's size and
// dispatches the create worker. The allocation record is inserted up
// front so the name is claimed and limits are charged; a failed create
// removes it again.
func (m *Manager) startCreateLocked(info JobInfo, job *objects.JobBuffer, sub *objects.SubRequest) error {
	if m.registry.FindByName(sub.Name, info.UserID) != nil {
		// already exists, treat the directive as satisfied
		if err := sub.HandleEvent(objects.CreatePersistent); err != nil {
			return err
		}
		return sub.HandleEvent(objects.CreatedPersistent)
	}
	alloc := &objects.Allocation{
		Name:       sub.Name,
		UserID:     info.UserID,
		Size:       sub.Size,
		Account:    info.Account,
		Partition:  info.Partition,
		QOS:        info.QOS,
		CreateTime: time.Now(),
		State:      objects.SubAllocating.String(),
	}
	if err := m.registry.Insert(alloc); err != nil {
		return err
	}
	m.capacity.Grant(alloc.Size, nil)
	if err := sub.HandleEvent(objects.CreatePersistent); err != nil {
		return err
	}
	go m.runCreatePersistent(info, sub)
	return nil
}

// runCreatePersistent drives the tool's create_persistent function.
func (m *Manager) runCreatePersistent(info JobInfo, sub *objects.SubRequest) {
	args := []string{
		"-c", "CLI",
		"-t", sub.Name,
		"-u", strconv.FormatUint(uint64(info.UserID), 10),
		"-C", fmt.Sprintf("%s:%d", m.conf.DefaultPool, sub.Size),
	}
	if sub.Access != "" {
		args = append(args, "-a", sub.Access)
	}
	if sub.Type != "" {
		args = append(args, "-T", sub.Type)
	}
	output, status := m.runner.Run(context.Background(), orchestrator.FnCreatePersistent, args, m.conf.CreateTimeout)

	m.sched.LockJobs()
	defer m.sched.UnlockJobs()
	m.Lock()
	defer m.Unlock()

	if !orchestrator.Succeeded(status) || !strings.Contains(output, "created") {
		log.Log(log.Lifecycle).Error("create_persistent failed",
			zap.Uint64("jobID", info.JobID),
			zap.String("name", sub.Name),
			zap.Int("status", status),
			zap.String("response", output))
		if alloc := m.registry.FindByName(sub.Name, info.UserID); alloc != nil {
			m.registry.Remove(alloc)
			m.capacity.Release(alloc.Size, nil)
		}
		if err := sub.HandleEvent(objects.FailPersistent); err != nil {
			log.Log(log.Lifecycle).Error("failed to reset persistent sub-request",
				zap.String("name", sub.Name),
				zap.Error(err))
		}
		m.holdJobLocked(info.JobID, fmt.Sprintf("burst_buffer: create of %s failed: %s", sub.Name, output))
		return
	}

	if alloc := m.registry.FindByName(sub.Name, info.UserID); alloc != nil {
		alloc.State = objects.SubAllocated.String()
	}
	if err := sub.HandleEvent(objects.CreatedPersistent); err != nil {
		log.Log(log.Lifecycle).Error("persistent create completion rejected",
			zap.String("name", sub.Name),
			zap.Error(err))
	}
	m.dirty = true
	m.settleStageInLocked(info.JobID)
	m.sched.KickScheduler()
}

// settleStageInLocked marks a persistent-only job staged in once its
// last sub-request settles. Jobs that move data reach StagedIn from
// the stage-in worker instead.
func (m *Manager) settleStageInLocked(jobID uint64) {
	job, ok := m.jobs[jobID]
	if !ok || job.TotalBytes > 0 || job.ActiveSubRequests() > 0 {
		return
	}
	if job.CurrentState() != objects.StagingIn.String() {
		return
	}
	if err := job.HandleEvent(objects.StagedInBuffer); err != nil {
		log.Log(log.Lifecycle).Error("failed to settle stage-in",
			zap.Uint64("jobID", jobID),
			zap.Error(err))
	}
}

// startDestroyLocked validates ownership and dispatches the destroy
// worker. Only the owner or a privileged user may destroy a buffer.
func (m *Manager) startDestroyLocked(info JobInfo, job *objects.JobBuffer, sub *objects.SubRequest) error {
	alloc := m.registry.FindByName(sub.Name, info.UserID)
	if alloc == nil {
		alloc = m.registry.FindByNameAnyUser(sub.Name)
		if alloc != nil && alloc.UserID != info.UserID && !m.sched.IsPrivileged(info.UserID) {
			reason := fmt.Sprintf("burst_buffer: user %d may not destroy buffer %s owned by user %d",
				info.UserID, sub.Name, alloc.UserID)
			m.holdJobLocked(info.JobID, reason)
			return fmt.Errorf("%s", reason)
		}
	}
	if alloc == nil {
		log.Log(log.Lifecycle).Info("no burst buffer found for destroy directive",
			zap.Uint64("jobID", info.JobID),
			zap.String("name", sub.Name))
	}
	if err := sub.HandleEvent(objects.DeletePersistent); err != nil {
		return err
	}
	go m.runDestroyPersistent(info, sub, alloc)
	return nil
}

// runDestroyPersistent destroys a named buffer via the tool's teardown
// function with the buffer name as token.
func (m *Manager) runDestroyPersistent(info JobInfo, sub *objects.SubRequest, alloc *objects.Allocation) {
	script, err := m.dirs.teardownScript(info.JobID)
	if err != nil {
		log.Log(log.Lifecycle).Error("failed to prepare destroy script",
			zap.Uint64("jobID", info.JobID),
			zap.Error(err))
		return
	}
	args := []string{"--token", sub.Name, "--job", script}
	if sub.Hurry {
		args = append(args, "--hurry")
	}
	output, status := m.runner.Run(context.Background(), orchestrator.FnTeardown, args, m.conf.OtherTimeout)

	m.sched.LockJobs()
	defer m.sched.UnlockJobs()
	m.Lock()
	defer m.Unlock()

	if !orchestrator.Succeeded(status) && !strings.Contains(output, tokenNotFound) {
		log.Log(log.Lifecycle).Error("destroy_persistent failed",
			zap.Uint64("jobID", info.JobID),
			zap.String("name", sub.Name),
			zap.Int("status", status),
			zap.String("response", output))
		if err = sub.HandleEvent(objects.FailPersistent); err != nil {
			log.Log(log.Lifecycle).Error("failed to reset persistent sub-request",
				zap.String("name", sub.Name),
				zap.Error(err))
		}
		m.holdJobLocked(info.JobID, fmt.Sprintf("burst_buffer: destroy of %s failed: %s", sub.Name, output))
		return
	}

	if alloc != nil {
		m.registry.Remove(alloc)
		m.capacity.Release(alloc.Size, nil)
		m.dirty = true
	}
	if err = sub.HandleEvent(objects.DeletedPersistent); err != nil {
		log.Log(log.Lifecycle).Error("persistent destroy completion rejected",
			zap.String("name", sub.Name),
			zap.Error(err))
	}
	m.settleStageInLocked(info.JobID)
	m.sched.KickScheduler()
}

// failJob records a tool failure on the job, holds it and enqueues a
// hurried teardown. Worker failures never unwind past this point.
func (m *Manager) failJob(jobID uint64, userID uint32, opID, function, output string, status int) {
	log.Log(log.Lifecycle).Error("tool invocation failed",
		zap.Uint64("jobID", jobID),
		zap.String("opID", opID),
		zap.String("function", function),
		zap.Int("status", status),
		zap.String("response", output))

	m.sched.LockJobs()
	defer m.sched.UnlockJobs()
	m.Lock()
	defer m.Unlock()
	m.holdJobLocked(jobID, fmt.Sprintf("burst_buffer: %s: %s", function, strings.TrimSpace(output)))
	m.queueTeardownLocked(jobID, userID, tokenForJob(jobID), true)
}

// holdJobLocked attaches the failure reason to both the descriptor and
// the scheduler's job record.
func (m *Manager) holdJobLocked(jobID uint64, reason string) {
	if job, ok := m.jobs[jobID]; ok {
		job.Hold(reason)
	}
	if m.sched.JobExists(jobID) {
		m.sched.HoldJob(jobID, reason)
	} else {
		log.Log(log.Lifecycle).Warn("job record vanished, abandoning hold",
			zap.Uint64("jobID", jobID))
	}
}

// readEnvFile parses the tool generated environment file into
// key=value pairs.
func readEnvFile(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Log(log.Lifecycle).Warn("failed to read environment file",
			zap.String("path", path),
			zap.Error(err))
		return nil
	}
	var env []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, "=") {
			env = append(env, line)
		}
	}
	return env
}
