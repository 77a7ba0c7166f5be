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

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ninotreve/burstbuffer/pkg/common/configs"
	"github.com/ninotreve/burstbuffer/pkg/entrypoint"
	"github.com/ninotreve/burstbuffer/pkg/log"
)

func main() {
	configPath := flag.String("config", "burst_buffer.yaml", "path to the controller configuration file")
	flag.Parse()

	conf, err := configs.Load(*configPath)
	if err != nil {
		log.Log(log.Entrypoint).Error("failed to load configuration",
			zap.String("path", *configPath),
			zap.Error(err))
		os.Exit(1)
	}

	serviceContext := entrypoint.StartAllServices(conf)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	log.Log(log.Entrypoint).Info("shutting down",
		zap.String("signal", sig.String()))
	serviceContext.StopAll()
}
