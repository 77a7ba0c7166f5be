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

package configs

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ninotreve/burstbuffer/pkg/common"
)

const (
	DefaultOrchestratorPath  = "/opt/cray/dw_wlm/default/bin/dw_wlm_cli"
	DefaultReconcileInterval = 30 * time.Second
	DefaultStageTimeout      = 24 * time.Hour
	DefaultOtherTimeout      = 5 * time.Second
	DefaultValidateTimeout   = 2 * time.Second
	DefaultCreateTimeout     = 3 * time.Second
	DefaultListenAddress     = ":9190"
)

// Config is the yaml-backed controller configuration. Size limits are
// given as capacity strings ("100GiB"); the resolved byte values are
// populated by Validate and never serialized.
type Config struct {
	OrchestratorPath  string            `yaml:"orchestratorPath,omitempty"`
	StateDir          string            `yaml:"stateDir"`
	DefaultPool       string            `yaml:"defaultPool,omitempty"`
	Granularity       string            `yaml:"granularity,omitempty"`
	UserSizeLimit     string            `yaml:"userSizeLimit,omitempty"`
	AccountLimits     map[string]string `yaml:"accountLimits,omitempty"`
	PartitionLimits   map[string]string `yaml:"partitionLimits,omitempty"`
	QOSLimits         map[string]string `yaml:"qosLimits,omitempty"`
	AllowUsers        []uint32          `yaml:"allowUsers,omitempty"`
	DenyUsers         []uint32          `yaml:"denyUsers,omitempty"`
	EnablePersistent  bool              `yaml:"enablePersistent,omitempty"`
	ReconcileInterval time.Duration     `yaml:"reconcileInterval,omitempty"`
	StageInTimeout    time.Duration     `yaml:"stageInTimeout,omitempty"`
	StageOutTimeout   time.Duration     `yaml:"stageOutTimeout,omitempty"`
	OtherTimeout      time.Duration     `yaml:"otherTimeout,omitempty"`
	ValidateTimeout   time.Duration     `yaml:"validateTimeout,omitempty"`
	CreateTimeout     time.Duration     `yaml:"createTimeout,omitempty"`
	ListenAddress     string            `yaml:"listenAddress,omitempty"`

	GranularityBytes    int64            `yaml:"-"`
	UserSizeLimitBytes  int64            `yaml:"-"`
	AccountLimitBytes   map[string]int64 `yaml:"-"`
	PartitionLimitBytes map[string]int64 `yaml:"-"`
	QOSLimitBytes       map[string]int64 `yaml:"-"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals, applies defaults and validates a configuration.
func Parse(data []byte) (*Config, error) {
	conf := &Config{}
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate fills in defaults and resolves all capacity strings.
func (c *Config) Validate() error {
	if c.OrchestratorPath == common.Empty {
		c.OrchestratorPath = DefaultOrchestratorPath
	}
	if c.StateDir == common.Empty {
		return fmt.Errorf("stateDir must be set")
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = DefaultReconcileInterval
	}
	if c.StageInTimeout <= 0 {
		c.StageInTimeout = DefaultStageTimeout
	}
	if c.StageOutTimeout <= 0 {
		c.StageOutTimeout = DefaultStageTimeout
	}
	if c.OtherTimeout <= 0 {
		c.OtherTimeout = DefaultOtherTimeout
	}
	if c.ValidateTimeout <= 0 {
		c.ValidateTimeout = DefaultValidateTimeout
	}
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = DefaultCreateTimeout
	}
	if c.ListenAddress == common.Empty {
		c.ListenAddress = DefaultListenAddress
	}

	var err error
	if c.GranularityBytes, err = resolveSize("granularity", c.Granularity); err != nil {
		return err
	}
	if c.UserSizeLimitBytes, err = resolveSize("userSizeLimit", c.UserSizeLimit); err != nil {
		return err
	}
	if c.AccountLimitBytes, err = resolveSizeMap("accountLimits", c.AccountLimits); err != nil {
		return err
	}
	if c.PartitionLimitBytes, err = resolveSizeMap("partitionLimits", c.PartitionLimits); err != nil {
		return err
	}
	if c.QOSLimitBytes, err = resolveSizeMap("qosLimits", c.QOSLimits); err != nil {
		return err
	}

	for _, allowed := range c.AllowUsers {
		for _, denied := range c.DenyUsers {
			if allowed == denied {
				return fmt.Errorf("user %d present in both allowUsers and denyUsers", allowed)
			}
		}
	}
	return nil
}

// UserAllowed applies the allow/deny lists. An empty allow list admits
// everyone not explicitly denied.
func (c *Config) UserAllowed(userID uint32) bool {
	for _, denied := range c.DenyUsers {
		if denied == userID {
			return false
		}
	}
	if len(c.AllowUsers) == 0 {
		return true
	}
	for _, allowed := range c.AllowUsers {
		if allowed == userID {
			return true
		}
	}
	return false
}

func resolveSize(field, value string) (int64, error) {
	if value == common.Empty {
		return 0, nil
	}
	size, err := common.ParseSize(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	return size, nil
}

func resolveSizeMap(field string, values map[string]string) (map[string]int64, error) {
	if len(values) == 0 {
		return nil, nil
	}
	resolved := make(map[string]int64, len(values))
	for key, value := range values {
		size, err := common.ParseSize(value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", field, key, err)
		}
		resolved[key] = size
	}
	return resolved, nil
}
