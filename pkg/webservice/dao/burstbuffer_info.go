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

package dao

// BurstBufferInfo describes one tracked allocation, either a job
// scoped buffer or a named persistent buffer.
type BurstBufferInfo struct {
	Name       string `json:"name"`
	JobID      uint64 `json:"jobID,omitempty"`
	UserID     uint32 `json:"userID"`
	Size       int64  `json:"size"`
	Account    string `json:"account,omitempty"`
	Partition  string `json:"partition,omitempty"`
	QOS        string `json:"qos,omitempty"`
	State      string `json:"state"`
	CreateTime int64  `json:"createTime"`
	Cancelled  bool   `json:"cancelled,omitempty"`
	Persistent bool   `json:"persistent"`
}

type BurstBuffersInfo struct {
	Buffers []BurstBufferInfo `json:"buffers"`
}
