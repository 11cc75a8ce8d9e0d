package exchange

import (
	"context"
	"fmt"
	"strings"

	"replicli/internal/domain"
)

// Follow-up choices offered after an image reply.
const (
	ChoiceContinue = "Send another one"
	ChoiceStop     = "Stop"
)

// FollowUpOptions is the option list handed to the prompter, in display order.
var FollowUpOptions = []string{ChoiceContinue, ChoiceStop}

// IsContinue reports whether a prompter answer asks for another image.
// Anything unrecognized means stop.
func IsContinue(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "1", "continue", strings.ToLower(ChoiceContinue):
		return true
	}
	return false
}

// imageFollowUp asks whether to request another image and presses the
// matching control. The turn is already finalized when this runs.
func (e *Engine) imageFollowUp(ctx context.Context, src string) error {
	answer := ""
	if e.prompter != nil {
		question := fmt.Sprintf("%s sent an image: %s", e.companionName, src)
		got, err := e.prompter.Choose(ctx, question, FollowUpOptions)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("follow-up prompt failed, stopping", "err", err)
		}
		answer = got
	}

	role, delay := domain.RoleStopButton, e.timeouts.ImageStop
	if IsContinue(answer) {
		role, delay = domain.RoleSendAnotherButton, e.timeouts.ImageContinue
	}

	loc, err := e.locators.Get(role)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrImageFollowUpFailed, err)
	}
	if err := e.driver.Click(ctx, loc); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %w", domain.ErrImageFollowUpFailed, role, err)
	}
	e.logger.Debug("follow-up control pressed", "role", role)
	return e.sleep(ctx, delay)
}
