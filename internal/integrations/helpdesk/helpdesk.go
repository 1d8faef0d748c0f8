// Package helpdesk ingests helpdesk tickets through the incremental
// export API, falling back to windowed search queries when the
// incremental endpoint is not enabled for the account.
package helpdesk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pminsight/internal/domain"
	"pminsight/internal/fetch"
	"pminsight/internal/httpx"
)

const (
	searchWindowDays = 7
	searchPerPage    = 100
	searchMaxPages   = 10 // search caps out near 1000 results per query
)

// Connector reads one helpdesk account. Requester emails are resolved
// via the sideloaded users on the incremental endpoint and drive the
// internal flag.
type Connector struct {
	baseURL         string
	email           string
	token           string
	internalDomains []string
	client          *http.Client
}

func New(baseURL, email, token string, internalDomains []string) *Connector {
	return &Connector{
		baseURL:         strings.TrimRight(baseURL, "/"),
		email:           email,
		token:           token,
		internalDomains: internalDomains,
		client:          httpx.Client(),
	}
}

func (c *Connector) Source() domain.Source { return domain.SourceHelpdesk }

// Fetch pulls tickets updated since the watermark. 401/403 from the
// incremental endpoint switch to the search API, windowed to stay under
// its result cap.
func (c *Connector) Fetch(ctx context.Context, since time.Time) ([]domain.Ticket, error) {
	tickets, err := c.fetchIncremental(ctx, since)
	var httpErr *statusError
	if errors.As(err, &httpErr) && (httpErr.code == http.StatusUnauthorized || httpErr.code == http.StatusForbidden) {
		log.Printf("helpdesk incremental export returned %d, using windowed search", httpErr.code)
		return c.fetchSearch(ctx, since)
	}
	return tickets, err
}

type apiTicket struct {
	ID          int64    `json:"id"`
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	RequesterID int64    `json:"requester_id"`
	AssigneeID  int64    `json:"assignee_id"`
	Tags        []string `json:"tags"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

type apiUser struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type incrementalResponse struct {
	Tickets     []apiTicket `json:"tickets"`
	Users       []apiUser   `json:"users"`
	AfterURL    string      `json:"after_url"`
	EndOfStream bool        `json:"end_of_stream"`
}

func (c *Connector) fetchIncremental(ctx context.Context, since time.Time) ([]domain.Ticket, error) {
	next := fmt.Sprintf("%s/api/v2/incremental/tickets/cursor.json?start_time=%d&include=users",
		c.baseURL, since.Unix())

	var out []domain.Ticket
	for next != "" {
		var page incrementalResponse
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		emails := make(map[int64]string, len(page.Users))
		for _, u := range page.Users {
			emails[u.ID] = u.Email
		}
		for _, t := range page.Tickets {
			out = append(out, c.mapTicket(t, emails))
		}
		if page.EndOfStream {
			break
		}
		next = page.AfterURL
	}
	return out, nil
}

// fetchSearch iterates [start, end) windows so each query stays under
// the search result cap, shrinking the window when the API reports 422.
func (c *Connector) fetchSearch(ctx context.Context, since time.Time) ([]domain.Ticket, error) {
	var out []domain.Ticket
	now := time.Now().UTC()
	start := since

	for start.Before(now) {
		windowDays := searchWindowDays
		var end time.Time
		for {
			end = start.AddDate(0, 0, windowDays)
			if end.After(now) {
				end = now
			}
			batch, err := c.searchWindow(ctx, start, end)
			var httpErr *statusError
			if errors.As(err, &httpErr) && httpErr.code == http.StatusUnprocessableEntity && windowDays > 1 {
				if windowDays > 3 {
					windowDays = 3
				} else {
					windowDays = 1
				}
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, batch...)
			break
		}
		start = end
	}
	return out, nil
}

type searchResult struct {
	apiTicket
	ResultType string `json:"result_type"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

func (c *Connector) searchWindow(ctx context.Context, start, end time.Time) ([]domain.Ticket, error) {
	query := fmt.Sprintf("type:ticket updated>=%s updated<%s",
		start.Format("2006-01-02"), end.Format("2006-01-02"))

	var out []domain.Ticket
	for page := 1; page <= searchMaxPages; page++ {
		params := url.Values{}
		params.Set("query", query)
		params.Set("sort_by", "updated_at")
		params.Set("sort_order", "asc")
		params.Set("page", strconv.Itoa(page))
		params.Set("per_page", strconv.Itoa(searchPerPage))

		var resp searchResponse
		if err := c.getJSON(ctx, c.baseURL+"/api/v2/search.json?"+params.Encode(), &resp); err != nil {
			return nil, err
		}

		mapped := 0
		for _, r := range resp.Results {
			if r.ResultType != "ticket" {
				continue
			}
			out = append(out, c.mapTicket(r.apiTicket, nil))
			mapped++
		}
		if mapped < searchPerPage {
			break
		}
	}
	return out, nil
}

func (c *Connector) mapTicket(t apiTicket, emails map[int64]string) domain.Ticket {
	requester := ""
	if t.RequesterID != 0 {
		requester = strconv.FormatInt(t.RequesterID, 10)
	}
	internal := false
	if email := emails[t.RequesterID]; email != "" {
		requester = email
		internal = fetch.IsInternalEmail(email, c.internalDomains)
	}
	assignee := ""
	if t.AssigneeID != 0 {
		assignee = strconv.FormatInt(t.AssigneeID, 10)
	}
	return domain.Ticket{
		Source:          domain.SourceHelpdesk,
		ExternalID:      strconv.FormatInt(t.ID, 10),
		Title:           t.Subject,
		Body:            t.Description,
		Status:          t.Status,
		Priority:        t.Priority,
		Requester:       requester,
		Assignee:        assignee,
		Labels:          t.Tags,
		URL:             fmt.Sprintf("%s/agent/tickets/%d", c.baseURL, t.ID),
		IsInternal:      internal,
		SourceCreatedAt: parseTime(t.CreatedAt),
		SourceUpdatedAt: parseTime(t.UpdatedAt),
	}
}

func (c *Connector) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.email+"/token", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching tickets: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode, body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("helpdesk API returned %d: %s", e.code, e.body)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
