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

package webservice

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/ninotreve/burstbuffer/pkg/webservice/dao"
)

func writeHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET")
	w.Header().Set("Access-Control-Allow-Headers", "X-Requested-With,Content-Type,Accept,Origin")
}

func buildJSONErrorResponse(w http.ResponseWriter, detail string, code int) {
	w.WriteHeader(code)
	errorInfo := dao.NewAPIError(code, detail)
	if jsonErr := json.NewEncoder(w).Encode(errorInfo); jsonErr != nil {
		http.Error(w, jsonErr.Error(), http.StatusInternalServerError)
	}
}

func getBurstBuffers(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	if bbManager == nil {
		buildJSONErrorResponse(w, "burst buffer manager is not running", http.StatusServiceUnavailable)
		return
	}
	snapshot := bbManager.TakeSnapshot()
	result := dao.BurstBuffersInfo{Buffers: make([]dao.BurstBufferInfo, 0, len(snapshot.Buffers))}
	for _, buffer := range snapshot.Buffers {
		result.Buffers = append(result.Buffers, dao.BurstBufferInfo{
			Name:       buffer.Name,
			JobID:      buffer.JobID,
			UserID:     buffer.UserID,
			Size:       buffer.Size,
			Account:    buffer.Account,
			Partition:  buffer.Partition,
			QOS:        buffer.QOS,
			State:      buffer.State,
			CreateTime: buffer.CreateTime,
			Cancelled:  buffer.Cancelled,
			Persistent: buffer.Persistent,
		})
	}
	if err := json.NewEncoder(w).Encode(result); err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}

func getPools(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	if bbManager == nil {
		buildJSONErrorResponse(w, "burst buffer manager is not running", http.StatusServiceUnavailable)
		return
	}
	snapshot := bbManager.TakeSnapshot()
	result := dao.PoolsInfo{
		DefaultPool: dao.PoolInfo{
			Name:        snapshot.DefaultPool,
			Granularity: snapshot.Granularity,
			TotalSpace:  snapshot.TotalSpace,
			UsedSpace:   snapshot.UsedSpace,
			FreeSpace:   snapshot.TotalSpace - snapshot.UsedSpace,
		},
	}
	for _, pool := range snapshot.Gres {
		result.GresPools = append(result.GresPools, dao.GresPoolInfo{
			Name:        pool.Name,
			Granularity: pool.Granularity,
			Total:       pool.Total,
			Used:        pool.Used,
			Free:        pool.Free(),
		})
	}
	if err := json.NewEncoder(w).Encode(result); err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}

func getUsage(w http.ResponseWriter, r *http.Request) {
	writeHeaders(w)
	if bbManager == nil {
		buildJSONErrorResponse(w, "burst buffer manager is not running", http.StatusServiceUnavailable)
		return
	}
	snapshot := bbManager.TakeSnapshot()
	result := dao.UsageInfo{Users: make([]dao.UserUsageInfo, 0, len(snapshot.Usage))}
	for userID, bytes := range snapshot.Usage {
		result.Users = append(result.Users, dao.UserUsageInfo{UserID: userID, Bytes: bytes})
	}
	sort.Slice(result.Users, func(i, j int) bool {
		return result.Users[i].UserID < result.Users[j].UserID
	})
	if err := json.NewEncoder(w).Encode(result); err != nil {
		buildJSONErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}
