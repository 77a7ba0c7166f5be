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
	"github.com/ninotreve/burstbuffer/pkg/bb"
	"github.com/ninotreve/burstbuffer/pkg/common/configs"
	"github.com/ninotreve/burstbuffer/pkg/log"
	"github.com/ninotreve/burstbuffer/pkg/orchestrator"
	"github.com/ninotreve/burstbuffer/pkg/plugins"
	"github.com/ninotreve/burstbuffer/pkg/plugins/defaults"
	"github.com/ninotreve/burstbuffer/pkg/webservice"
)

// options used to control how services are started
type startupOptions struct {
	startWebAppFlag bool
}

func StartAllServices(conf *configs.Config) *ServiceContext {
	log.Log(log.Entrypoint).Info("ServiceContext start all services")
	return startAllServicesWithParameters(conf, startupOptions{
		startWebAppFlag: true,
	})
}

// VisibleForTesting
func StartAllServicesWithParams(conf *configs.Config, withWebapp bool) *ServiceContext {
	log.Log(log.Entrypoint).Info("ServiceContext start all services")
	return startAllServicesWithParameters(conf, startupOptions{
		startWebAppFlag: withWebapp,
	})
}

func startAllServicesWithParameters(conf *configs.Config, opts startupOptions) *ServiceContext {
	scheduler := plugins.GetScheduler()
	if scheduler == nil {
		log.Log(log.Entrypoint).Info("no scheduler registered, running standalone")
		scheduler = defaults.NewStandaloneScheduler()
	}

	runner := orchestrator.NewCLIRunner(conf.OrchestratorPath)
	manager := bb.NewManager(conf, scheduler, runner)

	log.Log(log.Entrypoint).Info("ServiceContext start burst buffer manager")
	manager.Start()

	context := &ServiceContext{
		Manager:   manager,
		Scheduler: scheduler,
	}

	if opts.startWebAppFlag {
		log.Log(log.Entrypoint).Info("ServiceContext start web application service")
		webapp := webservice.NewWebApp(manager, conf.ListenAddress)
		webapp.StartWebApp()
		context.WebApp = webapp
	}

	return context
}
