package llm

import "sync"

const (
	CostPerImage         = 0.00765
	CostPer1KInput       = 0.005
	CostPer1KOutput      = 0.015
	assumedTokensPerCall = 2000
)

// CostTracker accumulates API calls and an estimated spend for one document.
type CostTracker struct {
	mu           sync.Mutex
	calls        int
	images       int
	inputTokens  int
	outputTokens int
}

func (c *CostTracker) AddImage(u Usage) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.images++
	if u.Reported {
		c.inputTokens += u.InputTokens
		c.outputTokens += u.OutputTokens
	}
}

// AddText records a text call; without reported usage it assumes
// assumedTokensPerCall split evenly between input and output.
func (c *CostTracker) AddText(u Usage) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if !u.Reported {
		u.InputTokens, u.OutputTokens = assumedTokensPerCall/2, assumedTokensPerCall/2
	}
	c.inputTokens += u.InputTokens
	c.outputTokens += u.OutputTokens
}

// AddFailed counts a call that produced no usable response.
func (c *CostTracker) AddFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}

func (c *CostTracker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *CostTracker) EstimatedUSD() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.images)*CostPerImage +
		float64(c.inputTokens)/1000*CostPer1KInput +
		float64(c.outputTokens)/1000*CostPer1KOutput
}
