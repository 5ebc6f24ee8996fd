package models

import (
	"context"
	"errors"
	"testing"
)

func TestTransitionFollowsOnboardingFlow(t *testing.T) {
	cases := []struct {
		from  PipelineState
		event PipelineEvent
		want  PipelineState
	}{
		{StateWaitingPhotos, EventPhotosCollected, StateReadyToStartSurvey},
		{StateReadyToStartSurvey, EventSurveyStarted, StateSurveyInProgress},
		{StateSurveyInProgress, EventSurveyAnswered, StateSurveyInProgress},
		{StateSurveyInProgress, EventSurveyCompleted, StateWaitingVoiceSurvey},
		{StateWaitingVoiceSurvey, EventSurveyReopened, StateSurveyInProgress},
		{StateWaitingVoiceSurvey, EventFeelingsShared, StateMiniAppOpened},
		{StateMiniAppOpened, EventMiniAppClosed, StateFinalMessageSent},
		{StateAnalysisCompleted, EventMiniAppClosed, StateFinalMessageSent},
		{StateFinalMessageSent, EventMiniAppClosed, StateFinalMessageSent},
		{StateFinalMessageSent, EventFinalAcknowledged, StateOnboardingComplete},
	}

	for _, tc := range cases {
		got, err := Transition(context.Background(), tc.from, tc.event)
		if err != nil {
			t.Fatalf("%s --%s-->: unexpected error: %v", tc.from, tc.event, err)
		}
		if got != tc.want {
			t.Fatalf("%s --%s-->: expected %s, got %s", tc.from, tc.event, tc.want, got)
		}
	}
}

func TestTransitionResetAllowedFromEveryState(t *testing.T) {
	for _, state := range AllPipelineStates {
		got, err := Transition(context.Background(), state, EventPhotosReset)
		if err != nil {
			t.Fatalf("reset from %s failed: %v", state, err)
		}
		if got != StateWaitingPhotos {
			t.Fatalf("reset from %s: expected %s, got %s", state, StateWaitingPhotos, got)
		}
	}
}

func TestTransitionRejectsOutOfOrderEvents(t *testing.T) {
	cases := []struct {
		from  PipelineState
		event PipelineEvent
	}{
		{StateWaitingPhotos, EventSurveyStarted},
		{StateReadyToStartSurvey, EventFeelingsShared},
		{StateSurveyInProgress, EventMiniAppClosed},
		{StateOnboardingComplete, EventFinalAcknowledged},
		{PipelineState("BOGUS"), EventPhotosReset},
	}

	for _, tc := range cases {
		_, err := Transition(context.Background(), tc.from, tc.event)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s --%s-->: expected ErrInvalidTransition, got %v", tc.from, tc.event, err)
		}
		if CanTransition(tc.from, tc.event) {
			t.Fatalf("%s --%s-->: CanTransition reported true", tc.from, tc.event)
		}
	}
}

func TestFunnelMilestoneNames(t *testing.T) {
	if FunnelHypothesisReceived.String() != "hypothesis_received" {
		t.Fatalf("unexpected milestone name %q", FunnelHypothesisReceived.String())
	}
	if FunnelMilestone(42).String() != "unknown" {
		t.Fatalf("expected unknown for out of range milestone")
	}
}
