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

package log

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerHandle identifies a named sub-logger.
type LoggerHandle struct {
	id   int
	name string
}

func (h LoggerHandle) String() string {
	return h.name
}

// Logger handles for all controller subsystems.
var (
	BurstBuffer  = LoggerHandle{id: 0, name: "burstbuffer"}
	Admission    = LoggerHandle{id: 1, name: "burstbuffer.admission"}
	Lifecycle    = LoggerHandle{id: 2, name: "burstbuffer.lifecycle"}
	Reconciler   = LoggerHandle{id: 3, name: "burstbuffer.reconciler"}
	Limits       = LoggerHandle{id: 4, name: "burstbuffer.limits"}
	Orchestrator = LoggerHandle{id: 5, name: "burstbuffer.orchestrator"}
	Config       = LoggerHandle{id: 6, name: "burstbuffer.config"}
	REST         = LoggerHandle{id: 7, name: "burstbuffer.rest"}
	Metrics      = LoggerHandle{id: 8, name: "burstbuffer.metrics"}
	Deadlock     = LoggerHandle{id: 9, name: "deadlock"}
	Test         = LoggerHandle{id: 10, name: "test"}
	Entrypoint   = LoggerHandle{id: 11, name: "entrypoint"}
)

const handleCount = 12

var (
	once    sync.Once
	logger  *zap.Logger
	config  *zap.Config
	aLevel  *zap.AtomicLevel
	loggers []*zap.Logger
)

// Log returns the named logger for the given handle, initializing the
// logging subsystem on first use.
func Log(handle LoggerHandle) *zap.Logger {
	once.Do(initLogging)
	return loggers[handle.id]
}

// Logger returns the root logger.
func Logger() *zap.Logger {
	once.Do(initLogging)
	return logger
}

func initLogging() {
	if logger = zap.L(); isNopLogger(logger) {
		// No global logger preset, running standalone: build our own.
		config = createConfig()
		var err error
		logger, err = config.Build()
		// this should really not happen so just write to stdout and set a Nop logger
		if err != nil {
			fmt.Printf("Logging disabled, logger init failed with error: %v\n", err)
			logger = zap.NewNop()
		}
	}
	loggers = make([]*zap.Logger, handleCount)
	for _, handle := range []LoggerHandle{BurstBuffer, Admission, Lifecycle, Reconciler,
		Limits, Orchestrator, Config, REST, Metrics, Deadlock, Test, Entrypoint} {
		loggers[handle.id] = logger.Named(handle.name)
	}
}

func IsDebugEnabled() bool {
	if logger == nil {
		// when under development mode
		return true
	}
	return logger.Core().Enabled(zapcore.DebugLevel)
}

// Returns true if the logger is a noop, meaning logging has not been
// initialized yet. An embedding scheduler may preset a global logger via
// zap.ReplaceGlobals(), in which case we simply reuse it.
func isNopLogger(logger *zap.Logger) bool {
	return reflect.DeepEqual(zap.NewNop(), logger)
}

// Visible by tests
func InitAndSetLevel(level zapcore.Level) {
	if config == nil {
		Logger()
	}
	config.Level.SetLevel(level)
}

func GetAtomicLevel() *zap.AtomicLevel {
	return aLevel
}

// Create a log config to keep full control over
// LogLevel set to DEBUG, Encodes for console, Writes to stderr,
// Enables development mode (DPanicLevel),
// Print stack traces for messages at WarnLevel and above
func createConfig() *zap.Config {
	atomicLevel := zap.NewAtomicLevelAt(zap.DebugLevel)
	aLevel = &atomicLevel

	return &zap.Config{
		Level:       atomicLevel,
		Development: true,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			LevelKey:      "level",
			TimeKey:       "time",
			NameKey:       "name",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			LineEnding:    zapcore.DefaultLineEnding,
			// note: https://godoc.org/go.uber.org/zap/zapcore#EncoderConfig
			// only EncodeName is optional all others must be set
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
}
