package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"

	"pminsight/internal/domain"
	"pminsight/internal/search"
)

func TestComposeExtractsTextBlock(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		gotBody, err = io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("reading request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_1", "type": "message", "role": "assistant",
			"model": "claude-sonnet-4-5-20250929",
			"content": [{"type": "text", "text": "  Refunds are failing for EU cards.  "}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 42, "output_tokens": 9}
		}`)
	}))
	defer srv.Close()

	a := NewAnswerer("key", "", option.WithBaseURL(srv.URL))
	matches := []search.Result{
		{Title: "Refund failed twice", Source: domain.SourceHelpdesk, Kind: domain.KindIssue, URL: "https://h/1", Similarity: 0.91},
		{Title: "", Source: domain.SourceChat, URL: "https://c/2", Similarity: 0.55},
	}
	text, err := a.Compose(context.Background(), "why are refunds failing", matches)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if text != "Refunds are failing for EU cards." {
		t.Fatalf("unexpected answer %q", text)
	}

	body := string(gotBody)
	if !strings.Contains(body, "why are refunds failing") {
		t.Errorf("question missing from request: %s", body)
	}
	if !strings.Contains(body, "Refund failed twice") {
		t.Errorf("match titles missing from request: %s", body)
	}
	if !strings.Contains(body, "cache_control") {
		t.Errorf("system prompt not cached: %s", body)
	}
	if !strings.Contains(body, `"model":"claude-sonnet-4-5-20250929"`) {
		t.Errorf("default model not applied: %s", body)
	}
}

func TestComposeErrorsWithoutTextBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_2", "type": "message", "role": "assistant",
			"model": "m", "content": [], "usage": {"input_tokens": 1, "output_tokens": 0}
		}`)
	}))
	defer srv.Close()

	a := NewAnswerer("key", "m", option.WithBaseURL(srv.URL))
	if _, err := a.Compose(context.Background(), "q", nil); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestBuildPrompt(t *testing.T) {
	matches := []search.Result{
		{Title: "Refund failed", Source: domain.SourceHelpdesk, Kind: domain.KindIssue, URL: "https://h/1", Similarity: 0.9},
		{Source: domain.SourceChat, Similarity: 0.5},
	}
	got := buildPrompt("what is broken", matches)

	if !strings.HasPrefix(got, "Question: what is broken\n") {
		t.Fatalf("prompt missing question: %q", got)
	}
	if !strings.Contains(got, "1. [helpdesk/issue] Refund failed (similarity 0.90) https://h/1") {
		t.Fatalf("first match malformed: %q", got)
	}
	if !strings.Contains(got, "2. [chat/unknown] (untitled) (similarity 0.50)") {
		t.Fatalf("untitled match malformed: %q", got)
	}
}
