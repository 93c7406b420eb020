package service

import "crisp-voting-client/models"

type IndicatorStatus string

const (
	IndicatorPending  IndicatorStatus = "pending"
	IndicatorActive   IndicatorStatus = "active"
	IndicatorComplete IndicatorStatus = "complete"
	IndicatorError    IndicatorStatus = "error"
)

type IndicatorEntry struct {
	Step   models.VotingStep `json:"step"`
	Label  string            `json:"label"`
	Status IndicatorStatus   `json:"status"`
}

var indicatorSteps = []struct {
	step  models.VotingStep
	label string
}{
	{models.StepSigning, "Sign"},
	{models.StepEncrypting, "Encrypt"},
	{models.StepGeneratingProof, "Proof"},
	{models.StepBroadcasting, "Broadcast"},
}

// StepIndicator derives the status of each displayed step from the state of
// a submission. On error every step up to the last active one is marked as
// failed.
func StepIndicator(state State) []IndicatorEntry {
	current := state.Step
	if current == models.StepError {
		current = state.LastActiveStep
		if current == "" {
			current = models.StepSigning
		}
	}

	currentIndex := -1
	for i := range indicatorSteps {
		if indicatorSteps[i].step == current {
			currentIndex = i
		}
	}

	entries := make([]IndicatorEntry, len(indicatorSteps))
	for i, s := range indicatorSteps {
		entries[i] = IndicatorEntry{Step: s.step, Label: s.label}

		switch {
		case state.Step == models.StepComplete:
			entries[i].Status = IndicatorComplete
		case state.Step == models.StepError:
			if i <= currentIndex {
				entries[i].Status = IndicatorError
			} else {
				entries[i].Status = IndicatorPending
			}
		case i < currentIndex:
			entries[i].Status = IndicatorComplete
		case i == currentIndex:
			entries[i].Status = IndicatorActive
		default:
			entries[i].Status = IndicatorPending
		}
	}

	return entries
}
