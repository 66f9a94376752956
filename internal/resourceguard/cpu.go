package resourceguard

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// CgroupCPUSampler reports CPU usage as a percentage of the container's
// allocated CPU quota (cgroup v2 cpu.max, falling back to v1
// cpu.cfs_quota_us/cpu.cfs_period_us, and finally to host NumCPU when no
// cgroup limit is in force).
type CgroupCPUSampler struct {
	mu             sync.Mutex
	proc           *process.Process
	allocatedCPUs  float64
	lastSampleTime time.Time
	lastPercent    float64
}

// NewCgroupCPUSampler detects the container's CPU allocation and prepares to
// sample the current process's usage against it.
func NewCgroupCPUSampler() (*CgroupCPUSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &CgroupCPUSampler{
		proc:           proc,
		allocatedCPUs:  detectAllocatedCPUs(),
		lastSampleTime: time.Now(),
	}, nil
}

// CurrentPercent returns CPU usage normalized to the allocated CPU count: a
// single-core container pegged at 100% of that core returns 100, regardless
// of how many host cores exist. A nil sampler reports 0.
func (c *CgroupCPUSampler) CurrentPercent() float64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	hostPercent, err := c.proc.CPUPercent()
	if err != nil {
		return c.lastPercent
	}

	// process.CPUPercent is already normalized to 100% per core on the host;
	// rescale it to the container's allocation.
	percent := hostPercent * float64(runtime.NumCPU()) / c.allocatedCPUs
	c.lastPercent = percent
	c.lastSampleTime = time.Now()
	return percent
}

// Allocation returns the detected number of CPUs allocated to this container
// (or the host's core count when no cgroup limit applies).
func (c *CgroupCPUSampler) Allocation() float64 { return c.allocatedCPUs }

func detectAllocatedCPUs() float64 {
	if quota, period, ok := readCgroupV2Quota(); ok {
		return quota / period
	}
	if quota, period, ok := readCgroupV1Quota(); ok {
		return quota / period
	}
	return float64(runtime.NumCPU())
}

func readCgroupV2Quota() (quota, period float64, ok bool) {
	data, err := os.ReadFile("/sys/fs/cgroup/cpu.max")
	if err != nil {
		return 0, 0, false
	}
	fields := strings.Fields(strings.TrimSpace(string(data)))
	if len(fields) != 2 || fields[0] == "max" {
		return 0, 0, false
	}
	q, err1 := strconv.ParseFloat(fields[0], 64)
	p, err2 := strconv.ParseFloat(fields[1], 64)
	if err1 != nil || err2 != nil || p == 0 {
		return 0, 0, false
	}
	return q, p, true
}

func readCgroupV1Quota() (quota, period float64, ok bool) {
	qData, err := os.ReadFile("/sys/fs/cgroup/cpu/cpu.cfs_quota_us")
	if err != nil {
		return 0, 0, false
	}
	pData, err := os.ReadFile("/sys/fs/cgroup/cpu/cpu.cfs_period_us")
	if err != nil {
		return 0, 0, false
	}
	q, err1 := strconv.ParseFloat(strings.TrimSpace(string(qData)), 64)
	p, err2 := strconv.ParseFloat(strings.TrimSpace(string(pData)), 64)
	if err1 != nil || err2 != nil || q <= 0 || p == 0 {
		return 0, 0, false
	}
	return q, p, true
}
