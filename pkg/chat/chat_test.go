package chat

import (
	"context"
	"errors"
	"testing"
)

func TestCollect(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []StreamChunk
		want    string
		wantErr bool
	}{
		{
			name:   "concatenates until done",
			chunks: []StreamChunk{{Content: "暴雨"}, {Content: "砸在玻璃上"}, {Done: true}},
			want:   "暴雨砸在玻璃上",
		},
		{
			name:   "closed channel ends the stream",
			chunks: []StreamChunk{{Content: "a"}, {Content: "b"}},
			want:   "ab",
		},
		{
			name:    "error chunk stops the stream",
			chunks:  []StreamChunk{{Content: "a"}, {Error: errors.New("boom")}, {Content: "never"}},
			want:    "a",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan StreamChunk, len(tt.chunks))
			for _, c := range tt.chunks {
				ch <- c
			}
			close(ch)

			got, err := Collect(context.Background(), ch)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Collect() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Collect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompletionRequestValidate(t *testing.T) {
	if err := (CompletionRequest{}).Validate(); err == nil {
		t.Error("expected error for empty messages")
	}
	req := CompletionRequest{
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
		JSONMode: true,
		Tools:    []ToolDefinition{{Name: "speak"}},
	}
	if err := req.Validate(); err == nil {
		t.Error("expected error when json mode and tools are combined")
	}
	req.Tools = nil
	if err := req.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
