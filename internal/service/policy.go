package service

import "github.com/raphaelgruber/quizproc-go/internal/models"

// DecideTerminal maps final item counts to a task status. Partially
// succeeded items count as successes.
//
// any_failure: no failures succeeds, no successes fails, anything else is
// partially_succeeded. majority: no failures succeeds, more failures than
// successes fails, anything else is partially_succeeded.
func DecideTerminal(policy models.TerminalPolicy, succeeded, failed int) models.TaskStatus {
	if failed == 0 {
		return models.TaskSucceeded
	}
	switch policy {
	case models.PolicyMajority:
		if failed > succeeded {
			return models.TaskFailed
		}
	default:
		if succeeded == 0 {
			return models.TaskFailed
		}
	}
	return models.TaskPartiallySucceeded
}
