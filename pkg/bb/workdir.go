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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	scriptFile      = "script"
	clientNodesFile = "client_nodes"
	pathEnvFile     = "path_env"
)

// fallbackScript is handed to teardown when the job's own script has
// already been purged; the tool only needs a syntactically valid file.
const fallbackScript = "#!/bin/bash\n"

// workDirs lays out the per job scratch area under the state directory:
// <stateDir>/hash.<jobID%10>/job.<jobID> holding the staging script and
// the client node list consumed by tool invocations.
type workDirs struct {
	root string
}

func newWorkDirs(root string) *workDirs {
	return &workDirs{root: root}
}

func (w *workDirs) jobDir(jobID uint64) string {
	return filepath.Join(w.root, fmt.Sprintf("hash.%d", jobID%10), fmt.Sprintf("job.%d", jobID))
}

func (w *workDirs) scriptPath(jobID uint64) string {
	return filepath.Join(w.jobDir(jobID), scriptFile)
}

func (w *workDirs) clientNodesPath(jobID uint64) string {
	return filepath.Join(w.jobDir(jobID), clientNodesFile)
}

func (w *workDirs) pathEnvPath(jobID uint64) string {
	return filepath.Join(w.jobDir(jobID), pathEnvFile)
}

func (w *workDirs) writeScript(jobID uint64, script string) (string, error) {
	if err := os.MkdirAll(w.jobDir(jobID), 0700); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}
	path := w.scriptPath(jobID)
	if err := os.WriteFile(path, []byte(script), 0600); err != nil {
		return "", fmt.Errorf("failed to write job script: %w", err)
	}
	return path, nil
}

func (w *workDirs) writeClientNodes(jobID uint64, nodes []string) (string, error) {
	if err := os.MkdirAll(w.jobDir(jobID), 0700); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}
	path := w.clientNodesPath(jobID)
	content := strings.Join(nodes, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return "", fmt.Errorf("failed to write client nodes: %w", err)
	}
	return path, nil
}

// teardownScript returns the job's script path, creating the fallback
// no-op script when the original is gone.
func (w *workDirs) teardownScript(jobID uint64) (string, error) {
	path := w.scriptPath(jobID)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	return w.writeScript(jobID, fallbackScript)
}

// purge removes the job's scratch area after a successful teardown.
func (w *workDirs) purge(jobID uint64) error {
	return os.RemoveAll(w.jobDir(jobID))
}
