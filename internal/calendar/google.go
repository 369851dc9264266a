// Package calendar imports busy time from Google Calendar. It only reads.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"slotwise/backend/internal/domain"
)

const primaryCalendar = "primary"

var ErrInvalidToken = errors.New("invalid google token")

type Client struct {
	oauth      *oauth2.Config
	calendarID string
	apiOptions []option.ClientOption
}

type Option func(*Client)

// WithAPIOptions appends client options to every Calendar API call, e.g. a
// custom endpoint in tests.
func WithAPIOptions(opts ...option.ClientOption) Option {
	return func(c *Client) {
		c.apiOptions = append(c.apiOptions, opts...)
	}
}

func WithCalendarID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.calendarID = id
		}
	}
}

func New(clientID, clientSecret, redirectURL string, opts ...Option) *Client {
	c := &Client{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{gcal.CalendarReadonlyScope},
			Endpoint:     google.Endpoint,
		},
		calendarID: primaryCalendar,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return c.oauth.Exchange(ctx, code)
}

// ParseToken decodes the JSON form of an oauth2 token as handed out by the
// callback endpoint.
func ParseToken(raw string) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrInvalidToken
	}
	return &tok, nil
}

// Busy is a busy-time lookup bound to one user's token.
type Busy struct {
	client *Client
	token  *oauth2.Token
}

func (c *Client) ForToken(tok *oauth2.Token) *Busy {
	return &Busy{client: c, token: tok}
}

// BusyWindows queries free/busy for [from, to) and returns the busy blocks.
func (b *Busy) BusyWindows(ctx context.Context, from, to time.Time) ([]domain.TimeWindow, error) {
	httpClient := b.client.oauth.Client(ctx, b.token)
	opts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, b.client.apiOptions...)
	srv, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}

	id := b.client.calendarID
	resp, err := srv.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: from.UTC().Format(time.RFC3339),
		TimeMax: to.UTC().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: id}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query: %w", err)
	}

	cal, ok := resp.Calendars[id]
	if !ok {
		return nil, nil
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("freebusy %s: %s", id, cal.Errors[0].Reason)
	}

	out := make([]domain.TimeWindow, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil || !start.Before(end) {
			continue
		}
		out = append(out, domain.TimeWindow{Start: start.UTC(), End: end.UTC()})
	}
	return out, nil
}
