package messages

import (
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/joblens/internal/fault"
)

// Action discriminates message types on the wire.
type Action string

const (
	ActionAnalyze               Action = "analyze"
	ActionAnalyzeResult         Action = "analyzeResult"
	ActionAuthState             Action = "authState"
	ActionClearAnalysis         Action = "clearAnalysis"
	ActionExtractJobDescription Action = "extractJobDescription"
	ActionSubscriptionUpdated   Action = "subscriptionUpdated"
)

// AnalyzeRequest asks the coordinator to analyze raw job text.
type AnalyzeRequest struct {
	Action  Action `json:"action"`
	JobText string `json:"jobText"`
}

// NewAnalyzeRequest builds an analyze request.
func NewAnalyzeRequest(jobText string) AnalyzeRequest {
	return AnalyzeRequest{Action: ActionAnalyze, JobText: jobText}
}

// AnalyzeResponse carries the analysis result back to the requester, and
// doubles as the analyzeResult message forwarded to page agents. Failures
// are carried as a kind plus display string; the response contract is
// honored on every path.
type AnalyzeResponse struct {
	Action    Action       `json:"action"`
	Success   bool         `json:"success"`
	Analysis  *JobAnalysis `json:"analysis,omitempty"`
	Error     string       `json:"error,omitempty"`
	ErrorKind fault.Kind   `json:"errorKind,omitempty"`
}

// AnalyzeSucceeded builds a successful analyze response.
func AnalyzeSucceeded(analysis *JobAnalysis) AnalyzeResponse {
	return AnalyzeResponse{Action: ActionAnalyzeResult, Success: true, Analysis: analysis}
}

// AnalyzeFailed converts err into a failed analyze response.
func AnalyzeFailed(err error) AnalyzeResponse {
	return AnalyzeResponse{
		Action:    ActionAnalyzeResult,
		Success:   false,
		Error:     fault.Display(err),
		ErrorKind: fault.KindOf(err),
	}
}

// AuthStateMessage is the broadcast sent to all live surfaces after any
// operation that changes auth state. User and Subscription travel together
// so no listener can observe a half-updated state.
type AuthStateMessage struct {
	Action       Action        `json:"action"`
	IsLoggedIn   bool          `json:"isLoggedIn"`
	User         *User         `json:"user,omitempty"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// NewAuthStateMessage builds the broadcast form of state.
func NewAuthStateMessage(state AuthState) AuthStateMessage {
	return AuthStateMessage{
		Action:       ActionAuthState,
		IsLoggedIn:   state.IsLoggedIn(),
		User:         state.User(),
		Subscription: state.Subscription(),
	}
}

// State reconstructs the atomic auth state carried by the message.
func (m AuthStateMessage) State() AuthState {
	if !m.IsLoggedIn || m.User == nil {
		return LoggedOut()
	}
	return LoggedIn(*m.User, m.Subscription)
}

// ClearAnalysisMessage asks the coordinator to drop the current analysis,
// and tells page agents to retire their overlay and highlights.
type ClearAnalysisMessage struct {
	Action Action `json:"action"`
}

// NewClearAnalysis builds a clearAnalysis message.
func NewClearAnalysis() ClearAnalysisMessage {
	return ClearAnalysisMessage{Action: ActionClearAnalysis}
}

// ExtractRequest asks a page agent for the job text on its page.
type ExtractRequest struct {
	Action Action `json:"action"`
}

// NewExtractRequest builds an extractJobDescription message.
func NewExtractRequest() ExtractRequest {
	return ExtractRequest{Action: ActionExtractJobDescription}
}

// ExtractResponse carries extracted page text. JobText is empty when the
// page had no recognizable content; that is a valid outcome, not an error.
type ExtractResponse struct {
	JobText string `json:"jobText"`
}

// SubscriptionUpdatedMessage tells the coordinator a subscription changed
// so it can merge, persist, and rebroadcast.
type SubscriptionUpdatedMessage struct {
	Action       Action        `json:"action"`
	Subscription *Subscription `json:"subscription"`
}

// NewSubscriptionUpdated builds a subscriptionUpdated message.
func NewSubscriptionUpdated(sub Subscription) SubscriptionUpdatedMessage {
	s := sub
	return SubscriptionUpdatedMessage{Action: ActionSubscriptionUpdated, Subscription: &s}
}

// Ack is the generic {success, error} response.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// AckOK is the canonical success acknowledgment.
func AckOK() Ack { return Ack{Success: true} }

// AckUnknownAction is returned for unrecognized message kinds. The
// response contract is never silently dropped.
func AckUnknownAction() Ack {
	return Ack{Success: false, Error: "unknown action"}
}

// envelope peeks at the discriminator.
type envelope struct {
	Action Action `json:"action"`
}

// Decode parses raw message bytes into the concrete message type for its
// action. An unknown action returns an error carrying the action name so
// the coordinator can answer with AckUnknownAction.
func Decode(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}

	var (
		msg any
		err error
	)
	switch env.Action {
	case ActionAnalyze:
		var m AnalyzeRequest
		err = json.Unmarshal(data, &m)
		msg = m
	case ActionAnalyzeResult:
		var m AnalyzeResponse
		err = json.Unmarshal(data, &m)
		msg = m
	case ActionAuthState:
		var m AuthStateMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case ActionClearAnalysis:
		var m ClearAnalysisMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case ActionExtractJobDescription:
		var m ExtractRequest
		err = json.Unmarshal(data, &m)
		msg = m
	case ActionSubscriptionUpdated:
		var m SubscriptionUpdatedMessage
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("unknown action %q", env.Action)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s message: %w", env.Action, err)
	}
	return msg, nil
}

// Encode serializes a message for the wire.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}
