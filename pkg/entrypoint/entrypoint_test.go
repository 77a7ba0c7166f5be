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

package entrypoint

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/ninotreve/burstbuffer/pkg/common/configs"
	"github.com/ninotreve/burstbuffer/pkg/plugins/defaults"
)

func TestStartStopWithoutWebApp(t *testing.T) {
	conf := &configs.Config{StateDir: t.TempDir()}
	assert.NilError(t, conf.Validate())

	serviceContext := StartAllServicesWithParams(conf, false)
	defer serviceContext.StopAll()

	assert.Assert(t, serviceContext.Manager != nil, "manager must be running")
	assert.Assert(t, serviceContext.WebApp == nil, "web-app must not start")

	_, standalone := serviceContext.Scheduler.(*defaults.StandaloneScheduler)
	assert.Assert(t, standalone, "expected the standalone scheduler fallback")
}
