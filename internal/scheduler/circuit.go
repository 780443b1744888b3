package scheduler

import (
	"sync"

	"mailpipeline/pkg/alert"
)

// State 失败熔断状态
type State int

const (
	StateIdle State = iota
	StateRunning
	StateWarning
	StateCriticalSustained
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateWarning:
		return "warning"
	case StateCriticalSustained:
		return "critical_sustained"
	default:
		return "unknown"
	}
}

// criticalAfter 连续失败达到该次数后升级为 critical
const criticalAfter = 3

// Escalation 一次失败应发出的告警
type Escalation struct {
	Failures int
	Name     string
	Severity alert.Severity
}

// Circuit 连续失败计数
// Idle → Running → Warning(1) → Warning(2) → CriticalSustained，成功回到 Running
type Circuit struct {
	mu       sync.Mutex
	state    State
	failures int
}

func NewCircuit() *Circuit {
	return &Circuit{state: StateIdle}
}

// Start 进入 Running 并清零
func (c *Circuit) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateRunning
	c.failures = 0
}

// Stop 回到 Idle，失败计数保留到下次 Start
func (c *Circuit) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
}

// RecordSuccess 返回之前的连续失败次数
func (c *Circuit) RecordSuccess() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.failures
	c.failures = 0
	c.state = StateRunning
	return prev
}

// RecordFailure 失败 1、2 次为 warning，第 3 次起每次都是 critical
func (c *Circuit) RecordFailure() Escalation {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	if c.failures >= criticalAfter {
		c.state = StateCriticalSustained
		return Escalation{
			Failures: c.failures,
			Name:     alert.IngestionConsecutiveFailures,
			Severity: alert.SeverityCritical,
		}
	}
	c.state = StateWarning
	return Escalation{
		Failures: c.failures,
		Name:     alert.IngestionFailure,
		Severity: alert.SeverityWarning,
	}
}

func (c *Circuit) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Circuit) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}
