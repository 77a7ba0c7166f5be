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

package orchestrator

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/ninotreve/burstbuffer/pkg/log"
	"github.com/ninotreve/burstbuffer/pkg/metrics"
)

// Orchestrator function names driven by the controller.
const (
	FnSetup            = "setup"
	FnDataIn           = "data_in"
	FnPreRun           = "pre_run"
	FnDataOut          = "data_out"
	FnPostRun          = "post_run"
	FnTeardown         = "teardown"
	FnCreatePersistent = "create_persistent"
	FnJobProcess       = "job_process"
	FnPaths            = "paths"
	FnPools            = "pools"
	FnShowInstances    = "show_instances"
	FnShowSessions     = "show_sessions"
	FnShowConfigs      = "show_configurations"
)

// StatusTimeout is reported when an invocation did not exit on its own
// before the deadline. It is handled exactly like a non-zero exit.
const StatusTimeout = -1

// Runner invokes one orchestrator function and reports its combined
// output and exit status. Implementations must not hold any controller
// lock for the duration of the call.
type Runner interface {
	Run(ctx context.Context, function string, args []string, timeout time.Duration) (string, int)
}

// CLIRunner drives the orchestrator command line tool.
type CLIRunner struct {
	path string
}

func NewCLIRunner(path string) *CLIRunner {
	return &CLIRunner{path: path}
}

func (r *CLIRunner) Run(ctx context.Context, function string, args []string, timeout time.Duration) (string, int) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	argv := append([]string{"--function", function}, args...)
	start := time.Now()
	cmd := exec.CommandContext(runCtx, r.path, argv...)
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)
	metrics.GetBurstBufferMetrics().ObserveToolCall(function, elapsed)

	status := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			status = StatusTimeout
		case errors.As(err, &exitErr):
			status = exitErr.ExitCode()
		default:
			// spawn failure, no process ran
			status = StatusTimeout
			output = []byte(err.Error())
		}
	}
	if status != 0 {
		metrics.GetBurstBufferMetrics().IncToolCallFailure(function)
	}
	logRun(function, argv, string(output), status, elapsed)
	return string(output), status
}

// Slow invocations are logged at info so operators can see orchestrator
// latency without enabling debug.
func logRun(function string, argv []string, output string, status int, elapsed time.Duration) {
	logger := log.Log(log.Orchestrator)
	fields := []zap.Field{
		zap.String("function", function),
		zap.Strings("args", argv),
		zap.Int("status", status),
		zap.Duration("elapsed", elapsed),
		zap.String("output", output),
	}
	if elapsed > 500*time.Millisecond {
		logger.Info("orchestrator call finished", fields...)
	} else {
		logger.Debug("orchestrator call finished", fields...)
	}
}

// Succeeded reports whether an exit status counts as success.
func Succeeded(status int) bool {
	return status == 0
}
