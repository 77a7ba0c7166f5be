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

package request

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/ninotreve/burstbuffer/pkg/common"
)

func testOptions() Options {
	return Options{
		Granularity:      common.GiB,
		EnablePersistent: true,
		NodeCount:        4,
		UserID:           500,
	}
}

func TestParseBatchScriptJobDW(t *testing.T) {
	script := strings.Join([]string{
		"#!/bin/bash",
		"#DW jobdw capacity=100GiB access_mode=striped type=scratch",
		"srun hostname",
	}, "\n")

	req, err := ParseBatchScript(script, testOptions())
	assert.NilError(t, err)
	assert.Equal(t, int64(100*common.GiB), req.JobBytes)
	assert.Equal(t, "striped", req.Access)
	assert.Equal(t, "scratch", req.Type)
	assert.Assert(t, !req.Empty())
}

func TestParseBatchScriptStopsAtFirstCommand(t *testing.T) {
	script := strings.Join([]string{
		"#!/bin/bash",
		"srun hostname",
		"#DW jobdw capacity=100GiB",
	}, "\n")

	req, err := ParseBatchScript(script, testOptions())
	assert.NilError(t, err)
	assert.Assert(t, req.Empty(), "directives after the first command must be ignored")
}

func TestParseBatchScriptPersistent(t *testing.T) {
	script := strings.Join([]string{
		"#!/bin/bash",
		"#BB create_persistent name=scratch1 capacity=10GiB access=striped type=scratch",
		"#BB destroy_persistent name=old1 hurry",
		"#DW persistentdw name=scratch2",
	}, "\n")

	req, err := ParseBatchScript(script, testOptions())
	assert.NilError(t, err)
	assert.Equal(t, 2, len(req.Persistent))

	create := req.Persistent[0]
	assert.Equal(t, "scratch1", create.Name)
	assert.Equal(t, int64(10*common.GiB), create.Size)
	assert.Equal(t, "striped", create.Access)
	assert.Assert(t, !create.Destroy)

	destroy := req.Persistent[1]
	assert.Equal(t, "old1", destroy.Name)
	assert.Assert(t, destroy.Destroy)
	assert.Assert(t, destroy.Hurry)

	assert.Assert(t, req.UsePersistent)
	assert.Equal(t, int64(10*common.GiB), req.CreateBytes())
}

func TestParseBatchScriptPersistentDisabled(t *testing.T) {
	opts := testOptions()
	opts.EnablePersistent = false

	_, err := ParseBatchScript("#BB create_persistent name=x capacity=1GiB", opts)
	assert.ErrorContains(t, err, "not enabled")

	_, err = ParseBatchScript("#BB destroy_persistent name=x", opts)
	assert.ErrorContains(t, err, "not enabled")
}

func TestParseBatchScriptBadPersistent(t *testing.T) {
	opts := testOptions()

	_, err := ParseBatchScript("#BB create_persistent capacity=1GiB", opts)
	assert.ErrorContains(t, err, "requires a name")

	_, err = ParseBatchScript("#BB create_persistent name=1scratch capacity=1GiB", opts)
	assert.ErrorContains(t, err, "must not start with a digit")

	_, err = ParseBatchScript("#BB create_persistent name=scratch1", opts)
	assert.ErrorContains(t, err, "requires a capacity")

	_, err = ParseBatchScript("#BB create_persistent name=scratch1 capacity=0", opts)
	assert.ErrorContains(t, err, "invalid capacity")
}

func TestParseBatchScriptSwap(t *testing.T) {
	req, err := ParseBatchScript("#DW swap 2GiB", testOptions())
	assert.NilError(t, err)
	assert.Equal(t, int64(2), req.SwapGiB)
	assert.Equal(t, int64(4), req.SwapNodes)
	// 2 GiB per node across 4 nodes
	assert.Equal(t, int64(8*common.GiB), req.JobBytes)
}

func TestParseBatchScriptSwapWithoutNodeCount(t *testing.T) {
	opts := testOptions()
	opts.NodeCount = 0

	req, err := ParseBatchScript("#DW swap 2GiB", opts)
	assert.NilError(t, err)
	assert.Equal(t, int64(1), req.SwapNodes, "missing node count defaults to one node")
	assert.Equal(t, int64(2*common.GiB), req.JobBytes)
}

func TestParseBatchScriptNodeCapacity(t *testing.T) {
	req, err := ParseBatchScript("#DW jobdw capacity=4nodes", testOptions())
	assert.NilError(t, err)
	assert.Equal(t, int64(0), req.JobBytes)
	assert.Equal(t, 1, len(req.Gres))
	assert.Equal(t, "nodes", req.Gres[0].Name)
	assert.Equal(t, int64(4), req.Gres[0].Count)
}

func TestParseBatchScriptRoundsToGranularity(t *testing.T) {
	opts := testOptions()
	opts.Granularity = 16 * common.GiB

	req, err := ParseBatchScript("#DW jobdw capacity=10GiB", opts)
	assert.NilError(t, err)
	assert.Equal(t, int64(16*common.GiB), req.JobBytes)
}

func TestParseInteractive(t *testing.T) {
	req, err := ParseInteractive("capacity=50GiB swap=1", testOptions())
	assert.NilError(t, err)
	// 50 GiB capacity plus 1 GiB swap on each of 4 nodes
	assert.Equal(t, int64(54*common.GiB), req.JobBytes)
	assert.Equal(t, int64(1), req.SwapGiB)

	req, err = ParseInteractive("", testOptions())
	assert.NilError(t, err)
	assert.Assert(t, req.Empty())
}

func TestBuildScript(t *testing.T) {
	req, err := ParseInteractive("capacity=50GiB swap=1", testOptions())
	assert.NilError(t, err)

	script := BuildScript(req)
	assert.Assert(t, strings.HasPrefix(script, "#!/bin/bash\n"))
	assert.Assert(t, strings.Contains(script, "#DW swap 1GiB"))
	assert.Assert(t, strings.Contains(script, "#DW jobdw capacity=54GiB"))
}
