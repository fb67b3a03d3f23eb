package check

import "time"

// DummyCheck always completes CRITICAL with a fixed output. It stands in for
// a native check that could not be built, so the failure stays visible.
type DummyCheck struct {
	*Base
	output string
}

// NewDummyCheck creates a check reporting output on every run.
func NewDummyCheck(p Params, output string) *DummyCheck {
	c := &DummyCheck{
		Base:   newBase(p),
		output: output,
	}
	c.self = c
	return c
}

// StartCheck completes the run asynchronously.
func (c *DummyCheck) StartCheck(timeout time.Duration) error {
	gen, err := c.begin(timeout)
	if err != nil {
		return err
	}
	go c.OnCompletion(gen, Result{
		Status:   StatusCritical,
		Outputs:  []string{c.output},
		ExitCode: -1,
	})
	return nil
}
