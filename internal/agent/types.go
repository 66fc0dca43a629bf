// Package agent implements the Dex conversation orchestrator and its chat
// transports.
package agent

// Fixed replies returned without (or instead of) a model answer.
const (
	MsgMistakesUnavailable = "Sorry, I couldn't retrieve your mistakes right now. Please try again in a moment."
	MsgNoSessionMistakes   = "You haven't made any mistakes in this session yet. Keep going!"
	MsgNoMistakesRecorded  = "There are no mistakes recorded yet. Let's practice and I'll keep track of them for you."
	MsgUnhandled           = "I'm not sure how to handle this request. Could you rephrase it?"
	MsgModelUnavailable    = "Sorry, I'm having trouble answering right now. Please try again."
)

// ChatRequest is the body of a chat call.
type ChatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is returned for every successful chat call. ResponseStr mirrors
// Response for clients of the original API.
type ChatResponse struct {
	Response    string `json:"response"`
	ResponseStr string `json:"response_str"`
	SessionID   string `json:"session_id"`
}

// ErrorResponse is the body of a failed chat call.
type ErrorResponse struct {
	Error string `json:"error"`
}

func newChatResponse(text, sessionID string) ChatResponse {
	return ChatResponse{Response: text, ResponseStr: text, SessionID: sessionID}
}
