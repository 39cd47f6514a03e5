package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ChatChoice describes a chat-AI engine the student may query.
type ChatChoice struct {
	ID        string `json:"id" validate:"required"`
	ChatKey   string `json:"chat_key"`
	ModelKey  string `json:"model_key"`
	Title     string `json:"title"`
	CopyPaste bool   `json:"copyPaste,omitempty"`
}

// SessionSnapshot is the composition payload of an exam or questionnaire.
// Every field is optional: summary payloads omit most of them and a nil
// field must never overwrite a previously known value.
type SessionSnapshot struct {
	ID                 *string      `json:"id,omitempty"`
	Name               *string      `json:"name,omitempty"`
	Description        *string      `json:"description,omitempty"`
	DurationMinutes    *int         `json:"duration_minutes,omitempty"`
	Timeout            *string      `json:"timeout,omitempty"`
	ChatChoices        []ChatChoice `json:"chat_choices,omitempty"`
	Started            *bool        `json:"started,omitempty"`
	Ended              *bool        `json:"ended,omitempty"`
	NbQuestions        *int         `json:"nb_questions,omitempty"`
	Questions          QuestionSet  `json:"questions,omitempty"`
	CurrentQuestionIdx *int         `json:"current_question_idx,omitempty"`
}

// QuestionSnapshot is the per-question part of a SessionSnapshot.
type QuestionSnapshot struct {
	ID          *int                            `json:"id,omitempty"`
	Label       *string                         `json:"label,omitempty"`
	InitAnswer  *string                         `json:"init_answer,omitempty"`
	FinalAnswer *string                         `json:"final_answer,omitempty"`
	ChatActions map[string][]ChatActionSnapshot `json:"chat_actions,omitempty"`
	Resources   []ResourceSnapshot              `json:"resources,omitempty"`
}

// ChatActionSnapshot is a transcript entry as returned by the server.
type ChatActionSnapshot struct {
	ID        string  `json:"id"`
	Prompt    *string `json:"prompt,omitempty"`
	Answer    *string `json:"answer,omitempty"`
	Achieved  *bool   `json:"achieved,omitempty"`
	Timestamp *string `json:"timestamp,omitempty"`
}

// ResourceSnapshot is an external resource attached to a question.
type ResourceSnapshot struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	RscType     string  `json:"rsc_type,omitempty"`
	Timestamp   *string `json:"timestamp,omitempty"`
}

// QuestionSet holds the questions of a snapshot. The server sends an object
// keyed by question index; a plain array is accepted as well. A nil set means
// the payload carried no questions.
type QuestionSet []QuestionSnapshot

// UnmarshalJSON accepts {"0": {...}, "1": {...}}, [{...}, ...] or null.
func (qs *QuestionSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*qs = nil
		return nil
	}

	if data[0] == '[' {
		var list []QuestionSnapshot
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("decode question list: %w", err)
		}
		*qs = fillQuestionIDs(list, nil)
		return nil
	}

	var byIdx map[string]QuestionSnapshot
	if err := json.Unmarshal(data, &byIdx); err != nil {
		return fmt.Errorf("decode question map: %w", err)
	}

	keys := make([]string, 0, len(byIdx))
	for k := range byIdx {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA != nil || errB != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})

	list := make([]QuestionSnapshot, 0, len(keys))
	for _, k := range keys {
		list = append(list, byIdx[k])
	}
	*qs = fillQuestionIDs(list, keys)
	return nil
}

// fillQuestionIDs gives every question an id: its own, else its map key,
// else its position.
func fillQuestionIDs(list []QuestionSnapshot, keys []string) QuestionSet {
	out := make(QuestionSet, len(list))
	for i, q := range list {
		if q.ID == nil {
			id := i
			if keys != nil {
				if n, err := strconv.Atoi(keys[i]); err == nil {
					id = n
				}
			}
			q.ID = &id
		}
		out[i] = q
	}
	return out
}

// SortByID orders questions by ascending id.
func (qs QuestionSet) SortByID() {
	sort.SliceStable(qs, func(i, j int) bool {
		return derefInt(qs[i].ID) < derefInt(qs[j].ID)
	})
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
