package model

// ChatAnswer is a streamed chat-AI fragment pushed over the realtime
// channel. Answer is appended to the matching transcript entry; Ended marks
// the last fragment.
type ChatAnswer struct {
	QuestionIdx *int    `json:"question_idx" validate:"required,gte=0"`
	ActionID    string  `json:"action_id" validate:"required"`
	ChatID      string  `json:"chat_id" validate:"required"`
	Answer      *string `json:"answer,omitempty"`
	Ended       bool    `json:"ended,omitempty"`
}
