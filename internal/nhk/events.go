package nhk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// FetchEvents returns the scheduled broadcast events of one series over the
// given horizon, normalised and sorted by start. A 404 response — either at
// the HTTP layer or as a payload-level error block — is an empty result.
func (c *Client) FetchEvents(ctx context.Context, seriesKey string, horizon time.Duration) ([]Event, error) {
	if seriesKey == "" {
		return nil, &APIError{Sentinel: ErrMalformed, Operation: "events", Err: fmt.Errorf("empty series key")}
	}
	to := c.clock.Now().In(tokyo).Add(horizon).Format("2006-01-02T15:04")
	u := fmt.Sprintf("%s/%s.json?offset=0&size=10&to=%s&status=scheduled",
		c.eventBase, url.PathEscape(seriesKey), url.QueryEscape(to))

	status, payload, err := c.getJSON(ctx, "events", u, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || payloadIs404(payload) {
		return []Event{}, nil
	}
	events, err := normalizeEvents(payload)
	if err != nil {
		return nil, err
	}
	c.debugf("events fetched: series=%s rows=%d", seriesKey, len(events))
	return events, nil
}
