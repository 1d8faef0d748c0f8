// Package chat ingests support requests posted in Slack channels. Each
// top-level user message becomes one ticket; bot and system messages are
// skipped.
package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"pminsight/internal/domain"
	"pminsight/internal/normalize"
)

const pageLimit = 200

// HistoryClient is the slice of the Slack API the connector reads.
// *slack.Client satisfies it.
type HistoryClient interface {
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
}

// Connector reads channel history incrementally via the oldest
// parameter and cursor pagination.
type Connector struct {
	api      HistoryClient
	channels []string
}

func New(api HistoryClient, channels []string) *Connector {
	return &Connector{api: api, channels: channels}
}

func (c *Connector) Source() domain.Source { return domain.SourceChat }

func (c *Connector) Fetch(ctx context.Context, since time.Time) ([]domain.Ticket, error) {
	oldest := fmt.Sprintf("%d.000000", since.Unix())
	var tickets []domain.Ticket
	for _, channel := range c.channels {
		channelTickets, err := c.fetchChannel(ctx, channel, oldest)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", channel, err)
		}
		tickets = append(tickets, channelTickets...)
	}
	return tickets, nil
}

func (c *Connector) fetchChannel(ctx context.Context, channel, oldest string) ([]domain.Ticket, error) {
	var out []domain.Ticket
	cursor := ""
	for {
		resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channel,
			Oldest:    oldest,
			Limit:     pageLimit,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, err
		}

		for _, msg := range resp.Messages {
			if msg.SubType != "" {
				continue
			}
			text := strings.TrimSpace(msg.Text)
			ts := tsTime(msg.Timestamp)
			out = append(out, domain.Ticket{
				Source:          domain.SourceChat,
				ExternalID:      channel + "-" + msg.Timestamp,
				Title:           normalize.Clip(text, 80),
				Body:            text,
				Requester:       msg.User,
				Labels:          []string{"slack"},
				SourceCreatedAt: ts,
				SourceUpdatedAt: ts,
			})
		}

		cursor = resp.ResponseMetaData.NextCursor
		if cursor == "" {
			return out, nil
		}
	}
}

// tsTime converts a Slack "seconds.micros" timestamp.
func tsTime(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		if m, err := strconv.ParseInt(frac, 10, 64); err == nil {
			micros = m
		}
	}
	return time.Unix(s, micros*1000).UTC()
}
