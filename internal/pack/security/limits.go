package security

import (
	"sync"
	"sync/atomic"
	"time"
)

// ResourceLimits defines resource limits for a pack.
type ResourceLimits struct {
	// Memory limit in bytes (advisory - not strictly enforced)
	MemoryLimit int64

	// Maximum execution time per hook call
	ExecutionTimeout time.Duration

	// Maximum instructions per execution (Lua VM)
	InstructionLimit int64

	// Ceiling for the pack's database artifact in bytes.
	// Zero means the host default, negative disables the check.
	StorageQuotaBytes int64

	// Maximum storage statements per second
	StorageOpsPerSecond int

	// Maximum member directory lookups per second
	UserLookupsPerSecond int

	// Maximum bytes a pack may write to the host log
	MaxLogBytes int64
}

// DefaultResourceLimits returns sensible default limits.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryLimit:          10 * 1024 * 1024, // 10 MB
		ExecutionTimeout:     5 * time.Second,
		InstructionLimit:     10_000_000,
		StorageQuotaBytes:    50 * 1024 * 1024, // 50 MiB
		StorageOpsPerSecond:  100,
		UserLookupsPerSecond: 50,
		MaxLogBytes:          1 * 1024 * 1024, // 1 MB
	}
}

// StrictResourceLimits returns stricter limits for untrusted packs.
func StrictResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryLimit:          5 * 1024 * 1024, // 5 MB
		ExecutionTimeout:     2 * time.Second,
		InstructionLimit:     1_000_000,
		StorageQuotaBytes:    10 * 1024 * 1024, // 10 MiB
		StorageOpsPerSecond:  10,
		UserLookupsPerSecond: 5,
		MaxLogBytes:          256 * 1024, // 256 KB
	}
}

// RelaxedResourceLimits returns relaxed limits for trusted packs.
func RelaxedResourceLimits() ResourceLimits {
	return ResourceLimits{
		MemoryLimit:          50 * 1024 * 1024, // 50 MB
		ExecutionTimeout:     30 * time.Second,
		InstructionLimit:     100_000_000,
		StorageQuotaBytes:    500 * 1024 * 1024, // 500 MiB
		StorageOpsPerSecond:  1000,
		UserLookupsPerSecond: 500,
		MaxLogBytes:          10 * 1024 * 1024, // 10 MB
	}
}

// ResourceMonitor tracks resource usage and enforces limits.
type ResourceMonitor struct {
	mu sync.RWMutex

	limits ResourceLimits

	// Tracking
	instructionCount int64
	memoryUsage      int64
	logBytes         int64

	// Rate limiters
	storageOpsLimiter  *RateLimiter
	userLookupsLimiter *RateLimiter

	// State
	exceeded bool
	reason   string
}

// NewResourceMonitor creates a new resource monitor with the given limits.
func NewResourceMonitor(limits ResourceLimits) *ResourceMonitor {
	return &ResourceMonitor{
		limits:             limits,
		storageOpsLimiter:  NewRateLimiter(limits.StorageOpsPerSecond),
		userLookupsLimiter: NewRateLimiter(limits.UserLookupsPerSecond),
	}
}

// IncrementInstructions increments the instruction counter.
// Returns true if the limit is exceeded.
func (rm *ResourceMonitor) IncrementInstructions(count int64) bool {
	newCount := atomic.AddInt64(&rm.instructionCount, count)
	if rm.limits.InstructionLimit > 0 && newCount > rm.limits.InstructionLimit {
		rm.setExceeded("instruction limit exceeded")
		return true
	}
	return false
}

// InstructionCount returns the current instruction count.
func (rm *ResourceMonitor) InstructionCount() int64 {
	return atomic.LoadInt64(&rm.instructionCount)
}

// ResetInstructionCount resets the instruction counter.
func (rm *ResourceMonitor) ResetInstructionCount() {
	atomic.StoreInt64(&rm.instructionCount, 0)
}

// UpdateMemoryUsage updates the memory usage tracking.
// Returns true if the limit is exceeded.
func (rm *ResourceMonitor) UpdateMemoryUsage(bytes int64) bool {
	atomic.StoreInt64(&rm.memoryUsage, bytes)
	if rm.limits.MemoryLimit > 0 && bytes > rm.limits.MemoryLimit {
		rm.setExceeded("memory limit exceeded")
		return true
	}
	return false
}

// MemoryUsage returns the current memory usage.
func (rm *ResourceMonitor) MemoryUsage() int64 {
	return atomic.LoadInt64(&rm.memoryUsage)
}

// AddLogOutput adds to the log output tracker.
// Returns true if the limit is exceeded.
func (rm *ResourceMonitor) AddLogOutput(bytes int64) bool {
	newSize := atomic.AddInt64(&rm.logBytes, bytes)
	if rm.limits.MaxLogBytes > 0 && newSize > rm.limits.MaxLogBytes {
		rm.setExceeded("log output limit exceeded")
		return true
	}
	return false
}

// LogBytes returns the bytes written to the host log so far.
func (rm *ResourceMonitor) LogBytes() int64 {
	return atomic.LoadInt64(&rm.logBytes)
}

// ResetLogBytes resets the log output counter.
func (rm *ResourceMonitor) ResetLogBytes() {
	atomic.StoreInt64(&rm.logBytes, 0)
}

// TryStorageOp attempts a storage statement.
// Returns true if allowed, false if rate limited.
func (rm *ResourceMonitor) TryStorageOp() bool {
	if !rm.storageOpsLimiter.Allow() {
		rm.setExceeded("storage operation rate limit exceeded")
		return false
	}
	return true
}

// TryUserLookup attempts a member directory lookup.
// Returns true if allowed, false if rate limited.
func (rm *ResourceMonitor) TryUserLookup() bool {
	if !rm.userLookupsLimiter.Allow() {
		rm.setExceeded("user lookup rate limit exceeded")
		return false
	}
	return true
}

// ExecutionTimeout returns the execution timeout.
func (rm *ResourceMonitor) ExecutionTimeout() time.Duration {
	return rm.limits.ExecutionTimeout
}

// StorageQuota returns the storage ceiling in bytes.
func (rm *ResourceMonitor) StorageQuota() int64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.limits.StorageQuotaBytes
}

// Limits returns the current limits.
func (rm *ResourceMonitor) Limits() ResourceLimits {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.limits
}

// SetLimits updates the resource limits.
func (rm *ResourceMonitor) SetLimits(limits ResourceLimits) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.limits = limits
	rm.storageOpsLimiter = NewRateLimiter(limits.StorageOpsPerSecond)
	rm.userLookupsLimiter = NewRateLimiter(limits.UserLookupsPerSecond)
}

// IsExceeded returns true if any limit was exceeded.
func (rm *ResourceMonitor) IsExceeded() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.exceeded
}

// ExceededReason returns the reason for limit exceeded, if any.
func (rm *ResourceMonitor) ExceededReason() string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.reason
}

// setExceeded marks limits as exceeded with a reason.
func (rm *ResourceMonitor) setExceeded(reason string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.exceeded = true
	rm.reason = reason
}

// Reset resets all counters and clears exceeded state.
func (rm *ResourceMonitor) Reset() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	atomic.StoreInt64(&rm.instructionCount, 0)
	atomic.StoreInt64(&rm.memoryUsage, 0)
	atomic.StoreInt64(&rm.logBytes, 0)
	rm.exceeded = false
	rm.reason = ""
	rm.storageOpsLimiter.Reset()
	rm.userLookupsLimiter.Reset()
}

// RateLimiter implements a simple token bucket rate limiter.
type RateLimiter struct {
	mu sync.Mutex

	rate       int       // operations per second
	tokens     int       // current tokens
	maxTokens  int       // maximum tokens (burst size)
	lastRefill time.Time // last token refill time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(ratePerSecond int) *RateLimiter {
	if ratePerSecond <= 0 {
		// No limit
		return &RateLimiter{rate: 0, tokens: 1, maxTokens: 1}
	}
	return &RateLimiter{
		rate:       ratePerSecond,
		tokens:     ratePerSecond,
		maxTokens:  ratePerSecond,
		lastRefill: time.Now(),
	}
}

// Allow returns true if an operation is allowed.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// No limit
	if rl.rate == 0 {
		return true
	}

	// Refill tokens based on elapsed time
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	tokensToAdd := int(elapsed.Seconds() * float64(rl.rate))
	if tokensToAdd > 0 {
		rl.tokens += tokensToAdd
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}

	// Check if we have tokens
	if rl.tokens <= 0 {
		return false
	}

	rl.tokens--
	return true
}

// Reset resets the rate limiter to full capacity.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = rl.maxTokens
	rl.lastRefill = time.Now()
}

// ResourceUsage represents a snapshot of resource usage.
type ResourceUsage struct {
	InstructionCount int64
	MemoryUsage      int64
	LogBytes         int64
	Exceeded         bool
	ExceededReason   string
}

// GetUsage returns a snapshot of current resource usage.
func (rm *ResourceMonitor) GetUsage() ResourceUsage {
	rm.mu.RLock()
	exceeded := rm.exceeded
	reason := rm.reason
	rm.mu.RUnlock()

	return ResourceUsage{
		InstructionCount: rm.InstructionCount(),
		MemoryUsage:      rm.MemoryUsage(),
		LogBytes:         rm.LogBytes(),
		Exceeded:         exceeded,
		ExceededReason:   reason,
	}
}
