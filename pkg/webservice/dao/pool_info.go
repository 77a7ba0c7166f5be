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

// PoolInfo is the byte addressed default pool of the system.
type PoolInfo struct {
	Name        string `json:"name"`
	Granularity int64  `json:"granularity"`
	TotalSpace  int64  `json:"totalSpace"`
	UsedSpace   int64  `json:"usedSpace"`
	FreeSpace   int64  `json:"freeSpace"`
}

// GresPoolInfo is a generic resource pool counted in units.
type GresPoolInfo struct {
	Name        string `json:"name"`
	Granularity int64  `json:"granularity"`
	Total       int64  `json:"total"`
	Used        int64  `json:"used"`
	Free        int64  `json:"free"`
}

type PoolsInfo struct {
	DefaultPool PoolInfo       `json:"defaultPool"`
	GresPools   []GresPoolInfo `json:"gresPools,omitempty"`
}
