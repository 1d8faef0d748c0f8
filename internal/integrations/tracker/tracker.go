// Package tracker ingests issues from the project tracker's JQL search
// endpoint, following its token-based pagination.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pminsight/internal/domain"
	"pminsight/internal/httpx"
)

const searchPageSize = 100

// Connector reads issues for a set of project keys. An empty project
// list means every project the credentials can see.
type Connector struct {
	baseURL  string
	email    string
	token    string
	projects []string
	client   *http.Client
}

func New(baseURL, email, token string, projects []string) *Connector {
	return &Connector{
		baseURL:  strings.TrimRight(baseURL, "/"),
		email:    email,
		token:    token,
		projects: projects,
		client:   httpx.Client(),
	}
}

func (c *Connector) Source() domain.Source { return domain.SourceTracker }

func (c *Connector) Fetch(ctx context.Context, since time.Time) ([]domain.Ticket, error) {
	jql := c.buildJQL(since)

	var out []domain.Ticket
	pageToken := ""
	for {
		page, err := c.search(ctx, jql, pageToken)
		if err != nil {
			return nil, err
		}
		for _, issue := range page.Issues {
			out = append(out, c.mapIssue(issue))
		}
		if page.IsLast || page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return out, nil
}

func (c *Connector) buildJQL(since time.Time) string {
	parts := []string{fmt.Sprintf("updated >= %q", since.Format("2006-01-02 15:04"))}
	if len(c.projects) > 0 {
		parts = append(parts, fmt.Sprintf("project in (%s)", strings.Join(c.projects, ",")))
	}
	return strings.Join(parts, " AND ")
}

type searchRequest struct {
	JQL           string   `json:"jql"`
	MaxResults    int      `json:"maxResults"`
	Fields        []string `json:"fields"`
	NextPageToken string   `json:"nextPageToken,omitempty"`
}

type apiIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string          `json:"summary"`
		Description json.RawMessage `json:"description"`
		Status      struct {
			Name string `json:"name"`
		} `json:"status"`
		Priority struct {
			Name string `json:"name"`
		} `json:"priority"`
		Assignee struct {
			DisplayName string `json:"displayName"`
		} `json:"assignee"`
		Reporter struct {
			DisplayName string `json:"displayName"`
		} `json:"reporter"`
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
		Labels  []string `json:"labels"`
		Created string   `json:"created"`
		Updated string   `json:"updated"`
	} `json:"fields"`
}

type searchResponse struct {
	Issues        []apiIssue `json:"issues"`
	IsLast        bool       `json:"isLast"`
	NextPageToken string     `json:"nextPageToken"`
}

func (c *Connector) search(ctx context.Context, jql, pageToken string) (*searchResponse, error) {
	payload, err := json.Marshal(searchRequest{
		JQL:        jql,
		MaxResults: searchPageSize,
		Fields: []string{"summary", "description", "status", "priority", "assignee",
			"reporter", "created", "updated", "labels", "project"},
		NextPageToken: pageToken,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/rest/api/3/search/jql", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searching issues: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker API returned %d: %s", resp.StatusCode, string(body))
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &out, nil
}

func (c *Connector) mapIssue(issue apiIssue) domain.Ticket {
	f := issue.Fields
	return domain.Ticket{
		Source:          domain.SourceTracker,
		ExternalID:      issue.Key,
		Title:           f.Summary,
		Body:            descriptionText(f.Description),
		Status:          f.Status.Name,
		Priority:        f.Priority.Name,
		Requester:       f.Reporter.DisplayName,
		Assignee:        f.Assignee.DisplayName,
		Labels:          f.Labels,
		URL:             c.baseURL + "/browse/" + issue.Key,
		Project:         f.Project.Key,
		SourceCreatedAt: parseTime(f.Created),
		SourceUpdatedAt: parseTime(f.Updated),
	}
}

type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

// descriptionText handles both plain-string descriptions and the rich
// document format, flattening the latter to its text content.
func descriptionText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var b strings.Builder
	flattenDoc(doc, &b)
	return strings.TrimSpace(b.String())
}

func flattenDoc(n adfNode, b *strings.Builder) {
	if n.Text != "" {
		b.WriteString(n.Text)
	}
	for _, child := range n.Content {
		flattenDoc(child, b)
	}
	if n.Type == "paragraph" || n.Type == "heading" {
		b.WriteString("\n")
	}
}

// parseTime accepts RFC 3339 plus the tracker's millisecond format
// with a colon-less zone offset.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000-0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
