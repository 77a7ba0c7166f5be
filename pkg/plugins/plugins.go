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

package plugins

import (
	"github.com/ninotreve/burstbuffer/pkg/bb"
	"github.com/ninotreve/burstbuffer/pkg/log"
)

var plugins SchedulerPlugins

// RegisterScheduler binds the embedding job scheduler's collaborator
// surface. The controller falls back to the standalone scheduler when
// nothing registers.
func RegisterScheduler(scheduler bb.Scheduler) {
	plugins.Lock()
	defer plugins.Unlock()
	log.Log(log.Entrypoint).Info("registering scheduler collaborator")
	plugins.scheduler = scheduler
}

// GetScheduler returns the registered collaborator, nil when none.
func GetScheduler() bb.Scheduler {
	plugins.RLock()
	defer plugins.RUnlock()
	return plugins.scheduler
}
