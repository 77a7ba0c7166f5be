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
	"github.com/ninotreve/burstbuffer/pkg/bb/objects"
)

// CurrentVersion is bumped whenever the Request shape changes in a way
// a persisted or cached copy could not absorb.
const CurrentVersion = 1

// Directive is one persistent buffer instruction carried by a request.
type Directive struct {
	Name    string
	Size    int64
	Access  string
	Type    string
	Destroy bool
	Hurry   bool
}

// Request is the structured form of a job's burst buffer demand,
// produced by the pure parse functions in this package. JobBytes
// already includes swap space, both rounded to pool granularity.
type Request struct {
	Version int

	JobBytes  int64
	Access    string
	Type      string
	SwapGiB   int64
	SwapNodes int64

	Gres       []objects.GresSpec
	Persistent []Directive
	// UsePersistent marks a job that mounts an existing named buffer
	// without creating or destroying anything.
	UsePersistent bool
}

// Empty reports whether the request carries no buffer demand at all.
func (r *Request) Empty() bool {
	return r.JobBytes == 0 && r.SwapGiB == 0 && len(r.Gres) == 0 &&
		len(r.Persistent) == 0 && !r.UsePersistent
}

// CreateBytes sums the capacity of all create directives.
func (r *Request) CreateBytes() int64 {
	var total int64
	for _, directive := range r.Persistent {
		if !directive.Destroy {
			total += directive.Size
		}
	}
	return total
}

// TotalBytes is the full byte demand used for limit testing at
// validation time: ephemeral plus persistent creates.
func (r *Request) TotalBytes() int64 {
	return r.JobBytes + r.CreateBytes()
}
