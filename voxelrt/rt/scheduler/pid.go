// Package scheduler implements the adaptive workgroup-budget controller:
// a PID loop over measured frame time. The coordinator feeds it
// per-frame durations and reads back a clamped workgroup budget.
package scheduler

import "github.com/AngeliteAI/voxelgen/voxelrt/rt/config"

// PIDScheduler drives the generation coordinator's per-frame minichunk
// batch size so sustained GPU work stays near a target frame time.
type PIDScheduler struct {
	setpoint   float64 // target frame seconds
	kp, ki, kd float64

	integral  float64
	prevError float64
	hasPrev   bool

	output int // current workgroup budget, [config.MinWorkgroupBudget, config.MaxWorkgroupBudget]
}

// New constructs a PIDScheduler targeting targetFrameSeconds, seeded at
// config.DefaultInitialWorkgroupBudget.
func New(targetFrameSeconds float64) *PIDScheduler {
	return &PIDScheduler{
		setpoint: targetFrameSeconds,
		kp:       0.6,
		ki:       0.3,
		kd:       0.05,
		output:   config.DefaultInitialWorkgroupBudget,
	}
}

// FrameStart updates the controller with the most recently measured
// frame time (seconds) and recomputes the workgroup budget. Called once
// per frame.
func (p *PIDScheduler) FrameStart(measuredFrameSeconds float64) {
	err := p.setpoint - measuredFrameSeconds // positive: frame was faster than target, room to do more work

	p.integral += err
	windupBound := 5 * p.setpoint
	if p.integral > windupBound {
		p.integral = windupBound
	} else if p.integral < -windupBound {
		p.integral = -windupBound
	}

	derivative := 0.0
	if p.hasPrev {
		derivative = err - p.prevError
	}
	p.prevError = err
	p.hasPrev = true

	delta := p.kp*err + p.ki*p.integral + p.kd*derivative

	// Translate the continuous PID delta into an integer workgroup-count
	// adjustment, capped to a factor of 2 per frame to avoid oscillation.
	proposed := p.output
	switch {
	case delta > 0:
		proposed = p.output + steps(delta)
	case delta < 0:
		proposed = p.output - steps(-delta)
	}

	maxUp := p.output * 2
	maxDown := (p.output + 1) / 2
	if maxDown < config.MinWorkgroupBudget {
		maxDown = config.MinWorkgroupBudget
	}
	if proposed > maxUp {
		proposed = maxUp
	}
	if proposed < maxDown && p.output > config.MinWorkgroupBudget {
		proposed = maxDown
	}

	if proposed > config.MaxWorkgroupBudget {
		proposed = config.MaxWorkgroupBudget
	}
	if proposed < config.MinWorkgroupBudget {
		proposed = config.MinWorkgroupBudget
	}

	p.output = proposed
}

// steps converts a PID delta (in seconds-equivalent units, scaled by the
// gains above) into an integer step count, at least 1 whenever delta is
// nonzero so the controller always makes forward progress.
func steps(delta float64) int {
	s := int(delta * 100)
	if s < 1 {
		s = 1
	}
	return s
}

// WorkgroupBudget returns the current output, in [MinWorkgroupBudget, MaxWorkgroupBudget].
func (p *PIDScheduler) WorkgroupBudget() int {
	return p.output
}
