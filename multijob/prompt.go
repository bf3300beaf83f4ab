package multijob

import (
	"context"
	"fmt"

	"phasetrack/production"
)

// maxQuantityPrompts bounds how often one job is re-prompted after an
// invalid answer before the stop is abandoned.
const maxQuantityPrompts = 3

// JobPrompt asks for the quantity done on one job. Err is the validation
// error of the previous attempt, if any.
type JobPrompt struct {
	Index     int
	Item      production.JobItem
	Remaining int
	Attempt   int
	Err       error
}

// QuantityPrompter asks the operator for finish quantities. Returning an
// error wrapping ErrCancelledByUser declines the stop.
type QuantityPrompter interface {
	PromptQuantity(ctx context.Context, p JobPrompt) (string, error)
}

// PromptFunc adapts a function to QuantityPrompter.
type PromptFunc func(ctx context.Context, p JobPrompt) (string, error)

func (f PromptFunc) PromptQuantity(ctx context.Context, p JobPrompt) (string, error) {
	return f(ctx, p)
}

// QuantityList answers prompts from quantities submitted up front, indexed
// like the job list. It cannot re-prompt, so an invalid entry fails the stop.
type QuantityList []string

func (q QuantityList) PromptQuantity(ctx context.Context, p JobPrompt) (string, error) {
	if p.Attempt > 0 {
		return "", p.Err
	}
	if p.Index < 0 || p.Index >= len(q) {
		return "", fmt.Errorf("%w: no quantity for job %d", production.ErrInvalidQuantity, p.Index+1)
	}
	return q[p.Index], nil
}

// askQuantity prompts until the answer is valid, the prompter gives up or
// the attempt budget is spent.
func askQuantity(ctx context.Context, p QuantityPrompter, jp JobPrompt) (int, error) {
	for attempt := 0; attempt < maxQuantityPrompts; attempt++ {
		jp.Attempt = attempt
		raw, err := p.PromptQuantity(ctx, jp)
		if err != nil {
			return 0, err
		}
		q, err := production.ParseQuantity(raw, jp.Remaining)
		if err == nil {
			return q, nil
		}
		jp.Err = err
	}
	return 0, jp.Err
}
