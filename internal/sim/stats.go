package sim

type Counter struct {
	Tasks            int
	TotalRewardMinor int64
}

func (c *Counter) Add(t TaskSpec) {
	c.Tasks++
	c.TotalRewardMinor += t.Reward
}

func (c Counter) MajorReward() float64 {
	return float64(c.TotalRewardMinor) / 100
}
