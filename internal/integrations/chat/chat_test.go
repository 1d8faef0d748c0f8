package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"pminsight/internal/domain"
)

type stubHistory struct {
	pages      map[string][]*slack.GetConversationHistoryResponse
	callIdx    map[string]int
	err        error
	gotOldest  []string
	gotCursors []string
}

func (s *stubHistory) GetConversationHistoryContext(_ context.Context, p *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	s.gotOldest = append(s.gotOldest, p.Oldest)
	s.gotCursors = append(s.gotCursors, p.Cursor)
	if s.err != nil {
		return nil, s.err
	}
	if s.callIdx == nil {
		s.callIdx = make(map[string]int)
	}
	pages := s.pages[p.ChannelID]
	i := s.callIdx[p.ChannelID]
	s.callIdx[p.ChannelID]++
	if i >= len(pages) {
		return &slack.GetConversationHistoryResponse{}, nil
	}
	return pages[i], nil
}

func page(next string, msgs ...slack.Message) *slack.GetConversationHistoryResponse {
	resp := &slack.GetConversationHistoryResponse{Messages: msgs}
	resp.ResponseMetaData.NextCursor = next
	return resp
}

func msg(ts, user, text string) slack.Message {
	return slack.Message{Msg: slack.Msg{Timestamp: ts, User: user, Text: text}}
}

func TestFetchPaginatesAndMaps(t *testing.T) {
	api := &stubHistory{pages: map[string][]*slack.GetConversationHistoryResponse{
		"C1": {
			page("c1", msg("1700000300.000100", "U1", "refunds are failing again"), msg("1700000200.000100", "U2", "second message")),
			page("", msg("1700000100.000100", "U3", "third message")),
		},
	}}
	conn := New(api, []string{"C1"})

	since := time.Unix(1700000000, 0).UTC()
	tickets, err := conn.Fetch(context.Background(), since)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(tickets) != 3 {
		t.Fatalf("expected 3 tickets, got %d", len(tickets))
	}

	first := tickets[0]
	if first.Source != domain.SourceChat || first.ExternalID != "C1-1700000300.000100" {
		t.Fatalf("unexpected identity: %+v", first)
	}
	if first.Title != "refunds are failing again" || first.Body != first.Title {
		t.Fatalf("unexpected text mapping: %+v", first)
	}
	if first.Requester != "U1" || len(first.Labels) != 1 || first.Labels[0] != "slack" {
		t.Fatalf("unexpected metadata: %+v", first)
	}
	want := time.Unix(1700000300, 100*1000).UTC()
	if !first.SourceCreatedAt.Equal(want) || !first.SourceUpdatedAt.Equal(want) {
		t.Fatalf("timestamp mapping wrong: %v", first.SourceCreatedAt)
	}

	if len(api.gotCursors) != 2 || api.gotCursors[0] != "" || api.gotCursors[1] != "c1" {
		t.Fatalf("cursor pagination wrong: %v", api.gotCursors)
	}
	if api.gotOldest[0] != "1700000000.000000" {
		t.Fatalf("oldest parameter wrong: %v", api.gotOldest[0])
	}
}

func TestFetchSkipsNonUserMessages(t *testing.T) {
	join := slack.Message{Msg: slack.Msg{Timestamp: "1700000400.000100", SubType: "channel_join", Text: "joined"}}
	api := &stubHistory{pages: map[string][]*slack.GetConversationHistoryResponse{
		"C1": {page("", join, msg("1700000500.000100", "U1", "real message"))},
	}}
	conn := New(api, []string{"C1"})

	tickets, err := conn.Fetch(context.Background(), time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(tickets) != 1 || tickets[0].Body != "real message" {
		t.Fatalf("subtype messages should be skipped: %+v", tickets)
	}
}

func TestFetchClipsLongTitles(t *testing.T) {
	long := strings.Repeat("払い戻し", 40) // 160 runes
	api := &stubHistory{pages: map[string][]*slack.GetConversationHistoryResponse{
		"C1": {page("", msg("1700000600.000100", "U1", long))},
	}}
	conn := New(api, []string{"C1"})

	tickets, err := conn.Fetch(context.Background(), time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if got := len([]rune(tickets[0].Title)); got != 80 {
		t.Fatalf("title should clip to 80 runes, got %d", got)
	}
	if tickets[0].Body != long {
		t.Fatal("body should keep the full text")
	}
}

func TestFetchCoversAllChannels(t *testing.T) {
	api := &stubHistory{pages: map[string][]*slack.GetConversationHistoryResponse{
		"C1": {page("", msg("1700000700.000100", "U1", "from one"))},
		"C2": {page("", msg("1700000800.000100", "U2", "from two"))},
	}}
	conn := New(api, []string{"C1", "C2"})

	tickets, err := conn.Fetch(context.Background(), time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(tickets) != 2 {
		t.Fatalf("expected one ticket per channel, got %d", len(tickets))
	}
	if !strings.HasPrefix(tickets[0].ExternalID, "C1-") || !strings.HasPrefix(tickets[1].ExternalID, "C2-") {
		t.Fatalf("external ids should be channel-scoped: %v, %v", tickets[0].ExternalID, tickets[1].ExternalID)
	}
}

func TestFetchPropagatesAPIErrors(t *testing.T) {
	api := &stubHistory{err: errors.New("invalid_auth")}
	conn := New(api, []string{"C9"})
	_, err := conn.Fetch(context.Background(), time.Unix(1700000000, 0))
	if err == nil || !strings.Contains(err.Error(), "channel C9") {
		t.Fatalf("expected channel-scoped error, got %v", err)
	}
}

func TestTsTime(t *testing.T) {
	if got := tsTime("1700000000.000300"); !got.Equal(time.Unix(1700000000, 300*1000).UTC()) {
		t.Fatalf("tsTime parsed %v", got)
	}
	if got := tsTime("garbage"); !got.IsZero() {
		t.Fatalf("bad timestamp should map to zero time, got %v", got)
	}
}
