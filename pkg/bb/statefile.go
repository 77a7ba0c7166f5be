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
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ninotreve/burstbuffer/pkg/log"
	"github.com/ninotreve/burstbuffer/pkg/metrics"
)

const stateFileVersion = 1

// stateRecord is the durable metadata for one buffer. The orchestrator
// does not retain attribution, so it is restored from here at startup
// and after every reconcile discovery.
type stateRecord struct {
	Account    string `json:"account,omitempty"`
	CreateTime int64  `json:"createTime"`
	Name       string `json:"name"`
	Partition  string `json:"partition,omitempty"`
	QOS        string `json:"qos,omitempty"`
	UserID     uint32 `json:"userID"`
	Size       int64  `json:"size,omitempty"`
}

type stateFileData struct {
	Version int           `json:"version"`
	Records []stateRecord `json:"records"`
}

// stateFile persists buffer metadata with a write-new-then-relink
// scheme: the new content lands in <path>.new, the previous file is
// kept as <path>.old, then the new file is renamed over <path>.
type stateFile struct {
	path string
}

func newStateFile(path string) *stateFile {
	return &stateFile{path: path}
}

func (s *stateFile) save(records []stateRecord) error {
	data, err := json.MarshalIndent(stateFileData{
		Version: stateFileVersion,
		Records: records,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state file: %w", err)
	}
	newPath := s.path + ".new"
	if err = os.WriteFile(newPath, data, 0600); err != nil {
		metrics.GetBurstBufferMetrics().IncStateFileError()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if _, statErr := os.Stat(s.path); statErr == nil {
		if err = os.Rename(s.path, s.path+".old"); err != nil {
			metrics.GetBurstBufferMetrics().IncStateFileError()
			return fmt.Errorf("failed to preserve previous state file: %w", err)
		}
	}
	if err = os.Rename(newPath, s.path); err != nil {
		metrics.GetBurstBufferMetrics().IncStateFileError()
		return fmt.Errorf("failed to relink state file: %w", err)
	}
	metrics.GetBurstBufferMetrics().IncStateFileWrite()
	return nil
}

// load reads the snapshot back, falling back to the preserved previous
// file when the current one is missing or unreadable. A missing
// snapshot is a clean first start, not an error.
func (s *stateFile) load() ([]stateRecord, error) {
	records, err := s.loadFrom(s.path)
	if err == nil {
		return records, nil
	}
	if !os.IsNotExist(err) {
		log.Log(log.BurstBuffer).Warn("state file unreadable, trying previous snapshot",
			zap.String("path", s.path),
			zap.Error(err))
	}
	records, oldErr := s.loadFrom(s.path + ".old")
	if oldErr == nil {
		return records, nil
	}
	if os.IsNotExist(err) && os.IsNotExist(oldErr) {
		// clean first start
		return nil, nil
	}
	return nil, err
}

func (s *stateFile) loadFrom(path string) ([]stateRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var content stateFileData
	if err = json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("failed to decode state file %s: %w", path, err)
	}
	if content.Version > stateFileVersion {
		return nil, fmt.Errorf("state file %s has unsupported version %d", path, content.Version)
	}
	return content.Records, nil
}
