package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// PipelineState is the durable conversational stage of a user
type PipelineState string

const (
	StateWaitingPhotos      PipelineState = "WAITING_PHOTOS"
	StateReadyToStartSurvey PipelineState = "READY_TO_START_SURVEY"
	StateSurveyInProgress   PipelineState = "SURVEY_IN_PROGRESS"
	StateWaitingVoiceSurvey PipelineState = "WAITING_VOICE_SURVEY"
	StateAnalysisCompleted  PipelineState = "ANALYSIS_COMPLETED" // legacy, resumed like MINI_APP_OPENED
	StateMiniAppOpened      PipelineState = "MINI_APP_OPENED"
	StateFinalMessageSent   PipelineState = "FINAL_MESSAGE_SENT"
	StateOnboardingComplete PipelineState = "ONBOARDING_COMPLETE"
)

// AllPipelineStates lists every state in flow order
var AllPipelineStates = []PipelineState{
	StateWaitingPhotos,
	StateReadyToStartSurvey,
	StateSurveyInProgress,
	StateWaitingVoiceSurvey,
	StateAnalysisCompleted,
	StateMiniAppOpened,
	StateFinalMessageSent,
	StateOnboardingComplete,
}

// Valid reports whether s is one of the known states
func (s PipelineState) Valid() bool {
	for _, known := range AllPipelineStates {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends the onboarding flow
func (s PipelineState) Terminal() bool {
	return s == StateOnboardingComplete
}

// PipelineEvent triggers a pipeline state transition
type PipelineEvent string

const (
	EventPhotosCollected   PipelineEvent = "photos_collected"
	EventSurveyStarted     PipelineEvent = "survey_started"
	EventSurveyAnswered    PipelineEvent = "survey_answered"
	EventSurveyReopened    PipelineEvent = "survey_reopened"
	EventSurveyCompleted   PipelineEvent = "survey_completed"
	EventFeelingsShared    PipelineEvent = "feelings_shared"
	EventMiniAppClosed     PipelineEvent = "mini_app_closed"
	EventFinalAcknowledged PipelineEvent = "final_acknowledged"
	EventPhotosReset       PipelineEvent = "photos_reset"
)

// ErrInvalidTransition is returned when an event is not allowed in the current state
var ErrInvalidTransition = errors.New("invalid pipeline transition")

// transitions is the single source of truth for the onboarding flow
var transitions = fsm.Events{
	{Name: string(EventPhotosCollected), Src: states(StateWaitingPhotos), Dst: string(StateReadyToStartSurvey)},
	{Name: string(EventSurveyStarted), Src: states(StateReadyToStartSurvey), Dst: string(StateSurveyInProgress)},
	{Name: string(EventSurveyAnswered), Src: states(StateSurveyInProgress), Dst: string(StateSurveyInProgress)},
	{Name: string(EventSurveyReopened), Src: states(StateWaitingVoiceSurvey, StateSurveyInProgress), Dst: string(StateSurveyInProgress)},
	{Name: string(EventSurveyCompleted), Src: states(StateSurveyInProgress), Dst: string(StateWaitingVoiceSurvey)},
	{Name: string(EventFeelingsShared), Src: states(StateWaitingVoiceSurvey), Dst: string(StateMiniAppOpened)},
	{Name: string(EventMiniAppClosed), Src: states(StateMiniAppOpened, StateAnalysisCompleted, StateFinalMessageSent), Dst: string(StateFinalMessageSent)},
	{Name: string(EventFinalAcknowledged), Src: states(StateFinalMessageSent), Dst: string(StateOnboardingComplete)},
	{Name: string(EventPhotosReset), Src: states(AllPipelineStates...), Dst: string(StateWaitingPhotos)},
}

func states(list ...PipelineState) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}

// Transition returns the state reached by applying event in state from.
// Self transitions are allowed and return from unchanged.
func Transition(ctx context.Context, from PipelineState, event PipelineEvent) (PipelineState, error) {
	if !from.Valid() {
		return "", fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, from)
	}

	machine := fsm.NewFSM(string(from), transitions, nil)
	if err := machine.Event(ctx, string(event)); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return from, nil
		}
		return "", fmt.Errorf("%w: %s in %s: %v", ErrInvalidTransition, event, from, err)
	}

	return PipelineState(machine.Current()), nil
}

// CanTransition reports whether event is allowed in state from
func CanTransition(from PipelineState, event PipelineEvent) bool {
	if !from.Valid() {
		return false
	}
	return fsm.NewFSM(string(from), transitions, nil).Can(string(event))
}
