package model

// Requests accepted by the observer API from the rendering layer.

// QuestionURI addresses a question by its stable id.
type QuestionURI struct {
	ID *int `uri:"id" binding:"required,gte=0"`
}

// ResourceURI addresses an external resource of a question.
type ResourceURI struct {
	ID         *int   `uri:"id" binding:"required,gte=0"`
	ResourceID string `uri:"resource_id" binding:"required"`
}

// ChangeQuestionRequest moves the session to another question.
type ChangeQuestionRequest struct {
	QuestionID *int `json:"question_id" binding:"required,gte=0"`
}

// AnswerRequest edits the initial or final answer. An empty answer is valid.
type AnswerRequest struct {
	Answer *string `json:"answer" binding:"required"`
}

// ChatRequest asks a chat engine on a question.
type ChatRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
	Prompt string `json:"prompt" binding:"required,max=20000"`
	// Answer is only used by copy-paste engines.
	Answer string `json:"answer" binding:"max=100000"`
}

// ResourceRequest attaches an external resource to a question.
type ResourceRequest struct {
	Title       string `json:"title" binding:"required,max=500"`
	Description string `json:"description" binding:"max=20000"`
	RscType     string `json:"rsc_type" binding:"required,max=100"`
}

// FocusEventRequest forwards a browser focus or visibility event.
type FocusEventRequest struct {
	Kind   string `json:"kind" binding:"required,oneof=blur focus visibilitychange"`
	Hidden bool   `json:"hidden"`
	// TimestampMs is the DOM event.timeStamp in milliseconds, 0 when absent.
	TimestampMs float64 `json:"timestamp_ms" binding:"gte=0"`
}
