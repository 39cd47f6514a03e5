package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMarshalAction(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	q := 2

	tests := []struct {
		name   string
		action Action
		want   map[string]any
		absent []string
	}{
		{
			name:   "start exam",
			action: StartExam{},
			want:   map[string]any{"action_type": "StartExam", "timestamp": nil},
			absent: []string{"question_idx"},
		},
		{
			name:   "changed question",
			action: ChangedQuestion{QuestionIdx: 0, NextQuestionIdx: 1},
			want: map[string]any{
				"action_type":       "ChangedQuestion",
				"question_idx":      float64(0),
				"next_question_idx": float64(1),
			},
		},
		{
			name: "lost focus",
			action: LostFocus{
				QuestionIdx:     &q,
				Timestamp:       ts,
				ReturnTimestamp: ts.Add(6 * time.Second),
				DurationSeconds: 6,
				PageHidden:      true,
			},
			want: map[string]any{
				"action_type":      "LostFocus",
				"question_idx":     float64(2),
				"timestamp":        "2024-03-01T09:00:00.000Z",
				"return_timestamp": "2024-03-01T09:00:06.000Z",
				"duration_seconds": float64(6),
				"page_hidden":      true,
			},
		},
		{
			name:   "write initial answer",
			action: WriteInitialAnswer{QuestionIdx: 1, Text: "draft", Timestamp: ts},
			want: map[string]any{
				"action_type":  "WriteInitialAnswer",
				"question_idx": float64(1),
				"text":         "draft",
				"timestamp":    "2024-03-01T09:00:00.000Z",
			},
		},
		{
			name:   "ask chat without answer",
			action: AskChatAI{QuestionIdx: 0, Prompt: "why?", ChatID: "c1", ChatKey: "openai", ModelKey: "gpt"},
			want: map[string]any{
				"action_type": "AskChatAI",
				"prompt":      "why?",
				"chat_id":     "c1",
				"chat_key":    "openai",
				"model_key":   "gpt",
				"timestamp":   nil,
			},
			absent: []string{"answer"},
		},
		{
			name:   "external resource",
			action: AddExternalResource{QuestionIdx: 3, Title: "t", Description: "d", RscType: "url"},
			want: map[string]any{
				"action_type": "AddExternalResource",
				"title":       "t",
				"description": "d",
				"rsc_type":    "url",
			},
		},
		{
			name:   "submit",
			action: SubmitExam{},
			want:   map[string]any{"action_type": "SubmitExam"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := MarshalAction(tt.action)
			if err != nil {
				t.Fatalf("MarshalAction() error = %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			for k, v := range tt.want {
				gv, ok := got[k]
				if !ok {
					t.Errorf("missing key %q in %s", k, raw)
					continue
				}
				if gv != v {
					t.Errorf("%s = %v, want %v", k, gv, v)
				}
			}
			for _, k := range tt.absent {
				if _, ok := got[k]; ok {
					t.Errorf("key %q should be absent in %s", k, raw)
				}
			}
		})
	}
}

func TestQuestionSetFromObject(t *testing.T) {
	raw := `{"questions": {"10": {"label": "ten"}, "2": {"id": 2, "label": "two"}, "0": {"label": "zero"}}}`

	var snap SessionSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(snap.Questions) != 3 {
		t.Fatalf("got %d questions, want 3", len(snap.Questions))
	}
	wantIDs := []int{0, 2, 10}
	for i, q := range snap.Questions {
		if q.ID == nil || *q.ID != wantIDs[i] {
			t.Errorf("question %d id = %v, want %d", i, q.ID, wantIDs[i])
		}
	}
}

func TestQuestionSetPresence(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		present bool
		count   int
	}{
		{"absent", `{}`, false, 0},
		{"null", `{"questions": null}`, false, 0},
		{"empty object", `{"questions": {}}`, true, 0},
		{"array", `{"questions": [{"label": "a"}, {"label": "b"}]}`, true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var snap SessionSnapshot
			if err := json.Unmarshal([]byte(tt.raw), &snap); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if (snap.Questions != nil) != tt.present {
				t.Errorf("present = %v, want %v", snap.Questions != nil, tt.present)
			}
			if len(snap.Questions) != tt.count {
				t.Errorf("count = %d, want %d", len(snap.Questions), tt.count)
			}
		})
	}
}

func TestSnapshotNullsAreAbsent(t *testing.T) {
	raw := `{"id": "e1", "timeout": null, "current_question_idx": null, "started": false}`

	var snap SessionSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Timeout != nil || snap.CurrentQuestionIdx != nil {
		t.Error("null fields should decode as absent")
	}
	if snap.Started == nil || *snap.Started {
		t.Error("explicit false must be kept")
	}
}
