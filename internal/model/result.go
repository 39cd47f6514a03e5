package model

// StartResult is the server response to a StartExam action.
type StartResult struct {
	ID          string  `json:"id"`
	Timestamp   *string `json:"timestamp,omitempty"`
	ExamStarted bool    `json:"exam_started"`
	Timeout     *string `json:"timeout,omitempty"`
}

// SubmitResult is the server response to a SubmitExam action.
type SubmitResult struct {
	ID        string  `json:"id"`
	Timestamp *string `json:"timestamp,omitempty"`
	ExamEnded bool    `json:"exam_ended"`
}

// ChatActionResult is the server response to an AskChatAI action. When the
// server cannot stream the answer it resolves the action at once with
// Achieved set and the text in Answer.
type ChatActionResult struct {
	ID          string  `json:"id"`
	Timestamp   *string `json:"timestamp,omitempty"`
	QuestionIdx int     `json:"question_idx"`
	ChatID      string  `json:"chat_id"`
	ChatKey     string  `json:"chat_key,omitempty"`
	Prompt      string  `json:"prompt"`
	Answer      *string `json:"answer,omitempty"`
	Achieved    bool    `json:"achieved"`
}

// ResourceResult is the server response to an AddExternalResource action.
type ResourceResult struct {
	ID          string  `json:"id"`
	Timestamp   *string `json:"timestamp,omitempty"`
	QuestionIdx int     `json:"question_idx"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	RscType     string  `json:"rsc_type"`
	Removed     bool    `json:"removed"`
}

// ActionAck is the generic response to question actions.
type ActionAck struct {
	ID          string  `json:"id"`
	Timestamp   *string `json:"timestamp,omitempty"`
	QuestionIdx *int    `json:"question_idx,omitempty"`
}
