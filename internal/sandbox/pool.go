package sandbox

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

// PoolConfig bounds how many *goja.Runtime instances are kept warm and how
// long an idle one survives before eviction.
type PoolConfig struct {
	MaxSize int
	IdleTTL time.Duration
}

// DefaultPoolConfig matches the sizing mote uses for its interpreter pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxSize: 8, IdleTTL: 5 * time.Minute}
}

type vmInstance struct {
	vm       *goja.Runtime
	lastUsed time.Time
}

// VMPool recycles goja.Runtime instances. Each goja.Runtime is single-goroutine
// only; the pool hands exclusive ownership to one caller at a time via Acquire
// and reclaims it on Release.
type VMPool struct {
	cfg PoolConfig

	mu   sync.Mutex
	idle []*vmInstance

	created int64

	stopCh chan struct{}
	once   sync.Once
}

// PoolStats is a point-in-time snapshot for observability.
type PoolStats struct {
	Idle    int
	Created int64
}

// NewVMPool starts a pool with the given config and launches its idle-eviction loop.
func NewVMPool(cfg PoolConfig) *VMPool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultPoolConfig().MaxSize
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultPoolConfig().IdleTTL
	}
	p := &VMPool{cfg: cfg, stopCh: make(chan struct{})}
	go p.cleanupLoop()
	return p
}

// Acquire returns a ready-to-use runtime, reusing an idle one when available
// or creating a fresh one up to MaxSize, otherwise blocking until one frees up.
func (p *VMPool) Acquire() *goja.Runtime {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		inst := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return inst.vm
	}
	p.mu.Unlock()

	if atomic.AddInt64(&p.created, 1) <= int64(p.cfg.MaxSize) {
		return newRuntime()
	}
	atomic.AddInt64(&p.created, -1)

	// Pool is saturated: wait for a release rather than unbounded creation.
	for {
		time.Sleep(time.Millisecond)
		p.mu.Lock()
		if n := len(p.idle); n > 0 {
			inst := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()
			return inst.vm
		}
		p.mu.Unlock()
	}
}

// Release clears global state from vm and returns it to the idle set.
func (p *VMPool) Release(vm *goja.Runtime) {
	clearGlobals(vm)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle = append(p.idle, &vmInstance{vm: vm, lastUsed: time.Now()})
}

func (p *VMPool) cleanupLoop() {
	ticker := time.NewTicker(p.cfg.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.evictIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *VMPool) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-p.cfg.IdleTTL)
	kept := p.idle[:0]
	evicted := 0
	for _, inst := range p.idle {
		if inst.lastUsed.Before(cutoff) {
			evicted++
			continue
		}
		kept = append(kept, inst)
	}
	p.idle = kept
	atomic.AddInt64(&p.created, -int64(evicted))
}

// Stats reports the current pool occupancy.
func (p *VMPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Idle: len(p.idle), Created: atomic.LoadInt64(&p.created)}
}

// Close stops the idle-eviction loop. It does not interrupt runtimes in use.
func (p *VMPool) Close() {
	p.once.Do(func() { close(p.stopCh) })
}

func newRuntime() *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	return vm
}

// clearGlobals strips everything a prior script may have installed on the
// global object so a reused runtime behaves like a fresh one. goja has no
// "reset" primitive, so each known sentinel and host binding is deleted
// explicitly by the caller before release; this only clears the well-known
// sandbox globals.
func clearGlobals(vm *goja.Runtime) {
	global := vm.GlobalObject()
	for _, key := range global.Keys() {
		switch key {
		case "Object", "Array", "Function", "String", "Number", "Boolean",
			"Math", "JSON", "Date", "RegExp", "Error", "TypeError", "RangeError",
			"SyntaxError", "Promise", "Symbol", "Map", "Set", "WeakMap", "WeakSet",
			"Proxy", "Reflect", "ArrayBuffer", "Uint8Array", "parseInt", "parseFloat",
			"isNaN", "isFinite", "encodeURIComponent", "decodeURIComponent", "globalThis":
			continue
		}
		_ = global.Delete(key)
	}
}
