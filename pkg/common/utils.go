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

package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const Empty = ""

// Size suffix multipliers. Buffer capacities follow the binary convention
// used by storage orchestrators: K/KiB = 1024 regardless of spelling.
const (
	KiB int64 = 1024
	MiB       = KiB * 1024
	GiB       = MiB * 1024
	TiB       = GiB * 1024
	PiB       = TiB * 1024
)

var sizeSuffixes = map[string]int64{
	"":    1,
	"B":   1,
	"K":   KiB,
	"KB":  KiB,
	"KIB": KiB,
	"M":   MiB,
	"MB":  MiB,
	"MIB": MiB,
	"G":   GiB,
	"GB":  GiB,
	"GIB": GiB,
	"T":   TiB,
	"TB":  TiB,
	"TIB": TiB,
	"P":   PiB,
	"PB":  PiB,
	"PIB": PiB,
}

// ParseSize converts a capacity string such as "100GiB", "4T" or "1048576"
// into bytes. The numeric part may be fractional ("1.5TiB").
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == Empty {
		return 0, fmt.Errorf("empty size value")
	}
	split := len(s)
	for split > 0 {
		c := s[split-1]
		if (c >= '0' && c <= '9') || c == '.' {
			break
		}
		split--
	}
	num, suffix := s[:split], strings.ToUpper(strings.TrimSpace(s[split:]))
	mult, ok := sizeSuffixes[suffix]
	if !ok {
		return 0, fmt.Errorf("invalid size suffix %q in %q", suffix, s)
	}
	if strings.Contains(num, ".") {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size value %q: %w", s, err)
		}
		return int64(f * float64(mult)), nil
	}
	v, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q: %w", s, err)
	}
	return v * mult, nil
}

// FormatSize renders bytes using the largest suffix that divides evenly,
// matching the representation the orchestrator CLI expects.
func FormatSize(bytes int64) string {
	switch {
	case bytes >= PiB && bytes%PiB == 0:
		return strconv.FormatInt(bytes/PiB, 10) + "PiB"
	case bytes >= TiB && bytes%TiB == 0:
		return strconv.FormatInt(bytes/TiB, 10) + "TiB"
	case bytes >= GiB && bytes%GiB == 0:
		return strconv.FormatInt(bytes/GiB, 10) + "GiB"
	case bytes >= MiB && bytes%MiB == 0:
		return strconv.FormatInt(bytes/MiB, 10) + "MiB"
	case bytes >= KiB && bytes%KiB == 0:
		return strconv.FormatInt(bytes/KiB, 10) + "KiB"
	default:
		return strconv.FormatInt(bytes, 10)
	}
}

// RoundUpToGranularity rounds size up to the next multiple of the pool's
// allocation unit. A granularity below 1 leaves the size untouched.
func RoundUpToGranularity(size, granularity int64) int64 {
	if granularity <= 1 || size <= 0 {
		return size
	}
	rem := size % granularity
	if rem == 0 {
		return size
	}
	return size + granularity - rem
}

func WaitFor(interval time.Duration, timeout time.Duration, condition func() bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for condition")
		}
		if condition() {
			return nil
		}
		time.Sleep(interval)
		continue
	}
}

// Generate a new uuid. The chance that we generate a collision is really small.
func GetNewUUID() string {
	return uuid.NewString()
}
