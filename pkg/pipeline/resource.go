// Copyright 2025 The Quiver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const lowRAMThreshold = 8 << 30 // 8 GiB

// ResourceMonitor reports host memory conditions. Chunking timeouts and the
// embedder's GC trigger adapt to what it reports. Readings are cached
// briefly; the pipeline polls it every loop iteration.
type ResourceMonitor struct {
	isWSL    bool
	totalRAM uint64

	mu         sync.Mutex
	lastRead   time.Time
	lastResult float64
}

// NewResourceMonitor probes the host once for static facts (WSL, total RAM).
func NewResourceMonitor() *ResourceMonitor {
	m := &ResourceMonitor{}
	if data, err := os.ReadFile("/proc/version"); err == nil {
		v := strings.ToLower(string(data))
		m.isWSL = strings.Contains(v, "microsoft") || strings.Contains(v, "wsl")
	}
	m.totalRAM = readMemInfoKB("MemTotal") * 1024
	return m
}

// IsWSL reports whether the process runs under Windows Subsystem for Linux.
func (m *ResourceMonitor) IsWSL() bool { return m.isWSL }

// LowRAM reports whether total system memory is below 8 GiB. Unknown totals
// count as not low.
func (m *ResourceMonitor) LowRAM() bool {
	return m.totalRAM > 0 && m.totalRAM < lowRAMThreshold
}

// MemoryPressure returns used/total in [0,1]. Falls back to the Go heap
// share of total RAM when /proc/meminfo is unavailable.
func (m *ResourceMonitor) MemoryPressure() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastRead) < time.Second {
		return m.lastResult
	}

	pressure := 0.0
	total := readMemInfoKB("MemTotal")
	available := readMemInfoKB("MemAvailable")
	switch {
	case total > 0 && available > 0:
		pressure = 1 - float64(available)/float64(total)
	case m.totalRAM > 0:
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		pressure = float64(stats.HeapAlloc) / float64(m.totalRAM)
	}

	m.lastRead = time.Now()
	m.lastResult = pressure
	return pressure
}

// MaybeGC runs a garbage collection when memory pressure exceeds the
// threshold. Returns whether a collection was triggered.
func (m *ResourceMonitor) MaybeGC(threshold float64) bool {
	if m.MemoryPressure() <= threshold {
		return false
	}
	runtime.GC()
	return true
}

func readMemInfoKB(field string) uint64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, field+":") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb
	}
	return 0
}

// ChunkTimeout computes the adaptive per-document chunking deadline from
// document size, host conditions and document traits.
func (m *ResourceMonitor) ChunkTimeout(size int, isHTML, isConverted bool) time.Duration {
	var base time.Duration
	switch {
	case size < 1<<10:
		base = 30 * time.Second
	case size < 10<<10:
		base = 60 * time.Second
	case size < 50<<10:
		base = 120 * time.Second
	case size < 100<<10:
		base = 240 * time.Second
	default:
		base = 360 * time.Second
	}

	factor := 1.0
	if m.IsWSL() {
		factor *= 2.0
	}
	if m.LowRAM() {
		factor *= 1.5
	}
	pressure := m.MemoryPressure()
	if pressure > 0.9 {
		factor *= 2.0
	} else if pressure > 0.8 {
		factor *= 1.5
	}
	if isHTML {
		factor *= 1.5
	}
	if isConverted {
		factor *= 1.5
	}

	// Size-proportional tail, capped at x4.
	sizeFactor := 1.0 + float64(size)/float64(500<<10)
	if sizeFactor > 4.0 {
		sizeFactor = 4.0
	}
	factor *= sizeFactor

	timeout := time.Duration(float64(base) * factor)
	limit := 600 * time.Second
	if m.IsWSL() {
		limit = 900 * time.Second
	}
	if timeout > limit {
		timeout = limit
	}
	return timeout
}
