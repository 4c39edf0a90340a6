package scheduler

import (
	"testing"

	"github.com/AngeliteAI/voxelgen/voxelrt/rt/config"
)

func TestInitialOutputIsEight(t *testing.T) {
	s := New(config.DefaultTargetFrameSeconds)
	if got := s.WorkgroupBudget(); got != 8 {
		t.Fatalf("expected initial output 8, got %d", got)
	}
}

func TestOutputStaysWithinBounds(t *testing.T) {
	s := New(config.DefaultTargetFrameSeconds)
	for i := 0; i < 200; i++ {
		s.FrameStart(0.001) // way under budget, should push up
		if b := s.WorkgroupBudget(); b < config.MinWorkgroupBudget || b > config.MaxWorkgroupBudget {
			t.Fatalf("output %d out of bounds [%d,%d]", b, config.MinWorkgroupBudget, config.MaxWorkgroupBudget)
		}
	}
	for i := 0; i < 200; i++ {
		s.FrameStart(1.0) // way over budget, should push down
		if b := s.WorkgroupBudget(); b < config.MinWorkgroupBudget || b > config.MaxWorkgroupBudget {
			t.Fatalf("output %d out of bounds [%d,%d]", b, config.MinWorkgroupBudget, config.MaxWorkgroupBudget)
		}
	}
}

func TestOutputChangeCappedAtFactorOfTwoPerFrame(t *testing.T) {
	s := New(config.DefaultTargetFrameSeconds)
	prev := s.WorkgroupBudget()
	for i := 0; i < 50; i++ {
		s.FrameStart(0.0) // maximal positive error every frame
		next := s.WorkgroupBudget()
		if next > prev*2 {
			t.Fatalf("output jumped from %d to %d, exceeding factor-of-2 cap", prev, next)
		}
		prev = next
	}
}

func TestOutputRespondsDownwardUnderOverrun(t *testing.T) {
	s := New(config.DefaultTargetFrameSeconds)
	for i := 0; i < 10; i++ {
		s.FrameStart(0.0)
	}
	high := s.WorkgroupBudget()
	for i := 0; i < 10; i++ {
		s.FrameStart(1.0)
	}
	if s.WorkgroupBudget() >= high {
		t.Fatalf("expected budget to decrease under sustained overrun: was %d now %d", high, s.WorkgroupBudget())
	}
}
