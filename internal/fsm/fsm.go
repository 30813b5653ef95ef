// Package fsm defines the capture session state table.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
	StateStopped      State = "stopped"
	StateError        State = "error"
)

const (
	EventStart          Event = "start"
	EventStop           Event = "stop"
	EventVoiceStarted   Event = "voice_started"
	EventUtteranceReady Event = "utterance_ready"
	EventDiscarded      Event = "utterance_discarded"
	EventTranscribed    Event = "transcribed"
	EventFail           Event = "fail"
)

// Active reports whether a capture is running in state s.
func (s State) Active() bool {
	switch s {
	case StateListening, StateRecording, StateTranscribing:
		return true
	default:
		return false
	}
}

func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateError, nil
	}

	switch current {
	case StateIdle, StateStopped, StateError:
		switch event {
		case EventStart:
			return StateListening, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateListening:
		switch event {
		case EventVoiceStarted:
			return StateRecording, nil
		case EventUtteranceReady:
			// utterance finalized while a previous one was transcribing
			return StateTranscribing, nil
		case EventStop:
			return StateStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventUtteranceReady:
			return StateTranscribing, nil
		case EventDiscarded:
			// buffered audio was too short to be speech
			return StateListening, nil
		case EventStop:
			return StateStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateTranscribing:
		switch event {
		case EventTranscribed:
			return StateListening, nil
		case EventStop:
			return StateStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
