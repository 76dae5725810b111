package bandit

import (
	"math"
)

type ArmStats struct {
	Count int
	Mean  float64
	Min   float64
	Max   float64
	m2    float64
}

func (s *ArmStats) Observe(reward float64) {
	if s.Count == 0 {
		s.Min, s.Max = reward, reward
	} else {
		s.Min = math.Min(s.Min, reward)
		s.Max = math.Max(s.Max, reward)
	}
	s.Count++
	delta := reward - s.Mean
	s.Mean += delta / float64(s.Count)
	s.m2 += delta * (reward - s.Mean)
}

// Variance is the population variance of the observed rewards.
func (s ArmStats) Variance() float64 {
	if s.Count < 2 {
		return 0
	}
	return s.m2 / float64(s.Count)
}

func (s ArmStats) Std() float64 {
	return math.Sqrt(s.Variance())
}

func (s ArmStats) Sum() float64 {
	return s.Mean * float64(s.Count)
}
