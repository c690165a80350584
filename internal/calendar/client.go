package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// listConcurrency caps parallel per-calendar list requests.
const listConcurrency = 4

// Client performs event reads and writes against one target calendar.
type Client struct {
	svc        *gcal.Service
	calendarID string
}

// New builds a Client authenticated from the stored OAuth token. It returns
// ErrNotAuthorized when the token is missing or unusable.
func New(ctx context.Context, calendarID string) (*Client, error) {
	httpClient, err := GetClient(ctx)
	if err != nil {
		return nil, err
	}

	svc, err := gcal.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return NewWithService(svc, calendarID), nil
}

// NewWithService wraps an existing service. Used by tests with a fake
// endpoint.
func NewWithService(svc *gcal.Service, calendarID string) *Client {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Client{svc: svc, calendarID: calendarID}
}

// CalendarID returns the target calendar this client writes to.
func (c *Client) CalendarID() string {
	return c.calendarID
}

// Insert creates the event on the target calendar and returns its remote ID.
func (c *Client) Insert(ctx context.Context, p EventPayload) (string, error) {
	ev, err := toGoogleEvent(p)
	if err != nil {
		return "", err
	}

	created, err := c.svc.Events.Insert(c.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return "", classify(err)
	}
	return created.Id, nil
}

// Update overwrites the writable fields of an existing remote event.
func (c *Client) Update(ctx context.Context, gcalID string, p EventPayload) error {
	ev, err := toGoogleEvent(p)
	if err != nil {
		return err
	}

	if _, err := c.svc.Events.Patch(c.calendarID, gcalID, ev).Context(ctx).Do(); err != nil {
		return classify(err)
	}
	return nil
}

// Move transfers an event from another calendar onto the target calendar and
// returns its ID there.
func (c *Client) Move(ctx context.Context, sourceCalendarID, sourceEventID string) (string, error) {
	moved, err := c.svc.Events.Move(sourceCalendarID, sourceEventID, c.calendarID).Context(ctx).Do()
	if err != nil {
		return "", classify(err)
	}
	return moved.Id, nil
}

// Get fetches a single event from the target calendar.
func (c *Client) Get(ctx context.Context, gcalID string) (*RemoteEvent, error) {
	item, err := c.svc.Events.Get(c.calendarID, gcalID).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}
	ev := fromGoogleEvent(c.calendarID, item)
	return &ev, nil
}

// ListUpcoming fetches events starting within the window across the given
// calendars, fanning the per-calendar requests out concurrently. An empty
// calendar list means the target calendar only. Per-calendar failures fail
// the whole listing.
func (c *Client) ListUpcoming(ctx context.Context, calendarIDs []string, window time.Duration) ([]RemoteEvent, error) {
	if len(calendarIDs) == 0 {
		calendarIDs = []string{c.calendarID}
	}

	now := time.Now()
	timeMin := now.Format(time.RFC3339)
	timeMax := now.Add(window).Format(time.RFC3339)

	var (
		mu  sync.Mutex
		all []RemoteEvent
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)

	for _, calID := range calendarIDs {
		g.Go(func() error {
			events, err := c.svc.Events.List(calID).
				TimeMin(timeMin).
				TimeMax(timeMax).
				SingleEvents(true).
				OrderBy("startTime").
				Context(ctx).
				Do()
			if err != nil {
				return fmt.Errorf("calendar %s: %w", calID, classify(err))
			}

			mu.Lock()
			for _, item := range events.Items {
				all = append(all, fromGoogleEvent(calID, item))
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Start < all[j].Start
	})
	return all, nil
}
