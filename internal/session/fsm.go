package session

import "fmt"

type State string

type Event string

const (
	StateIdle                  State = "idle"
	StateCheckingPermissions   State = "checking_permissions"
	StateRequestingPermissions State = "requesting_permissions"
	StateWaitingForCapture     State = "waiting_for_capture"
	StateRecording             State = "recording"
	StateStopping              State = "stopping"
	StateProcessing            State = "processing"
)

const (
	EventStart              Event = "start"
	EventPermissionsNeeded  Event = "permissions_needed"
	EventPermissionsGranted Event = "permissions_granted"
	EventCaptureStarted     Event = "capture_started"
	EventStop               Event = "stop"
	EventCaptureStopped     Event = "capture_stopped"
	EventFinalized          Event = "finalized"
	EventAbort              Event = "abort"
)

// Transition returns the state reached by applying event to current.
// EventAbort is valid from every state and returns to idle.
func Transition(current State, event Event) (State, error) {
	if event == EventAbort {
		return StateIdle, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateCheckingPermissions, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateCheckingPermissions:
		switch event {
		case EventPermissionsNeeded:
			return StateRequestingPermissions, nil
		case EventPermissionsGranted:
			return StateWaitingForCapture, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRequestingPermissions:
		switch event {
		case EventPermissionsGranted:
			return StateWaitingForCapture, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateWaitingForCapture:
		switch event {
		case EventCaptureStarted:
			return StateRecording, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventStop:
			return StateStopping, nil
		case EventCaptureStopped:
			// The page can stop on its own (user action in the tab).
			return StateProcessing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStopping:
		switch event {
		case EventCaptureStopped:
			return StateProcessing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateProcessing:
		switch event {
		case EventFinalized:
			return StateIdle, nil
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
