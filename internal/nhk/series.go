package nhk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// The programme index is paged by kana row.
var kanaRows = []string{"a", "k", "s", "t", "n", "h", "m", "y", "r", "w"}

var seriesCodePattern = regexp.MustCompile(`(?i)/rs/([A-Z0-9]+)/?`)

// ListSeries returns the programme index, served from the process-wide cache
// while it is fresh. Expired caches refresh lazily; concurrent callers share
// one in-flight refresh. When a refresh fails and a stale value exists, the
// stale value is returned.
func (c *Client) ListSeries(ctx context.Context) ([]Series, error) {
	c.mu.Lock()
	if c.seriesCache != nil && c.clock.Now().Before(c.seriesExpiry) {
		cached := c.seriesCache
		c.mu.Unlock()
		return cached, nil
	}
	stale := c.seriesCache
	c.mu.Unlock()

	v, err, _ := c.group.Do("series", func() (any, error) {
		series, err := c.fetchSeries(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.seriesCache = series
		c.seriesExpiry = c.clock.Now().Add(c.cacheTTL)
		c.mu.Unlock()
		return series, nil
	})
	if err != nil {
		if stale != nil {
			c.logger.Warn().Err(err).Msg("series refresh failed, serving stale cache")
			return stale, nil
		}
		return nil, err
	}
	return v.([]Series), nil
}

func (c *Client) fetchSeries(ctx context.Context) ([]Series, error) {
	var out []Series
	seen := make(map[int]struct{})
	for _, kana := range kanaRows {
		u := fmt.Sprintf("%s/series?kana=%s", c.seriesBase, kana)
		headers := map[string]string{
			"accept":           "application/json, text/javascript, */*; q=0.01",
			"x-requested-with": "XMLHttpRequest",
			"Referer":          fmt.Sprintf("https://www.nhk.or.jp/radio/programs/index.html?kana=%s", kana),
		}
		status, payload, err := c.getJSON(ctx, "series", u, headers)
		if err != nil {
			return nil, err
		}
		if status == http.StatusNotFound || payload == nil {
			continue
		}
		root, ok := payload.(map[string]any)
		if !ok {
			return nil, &APIError{Sentinel: ErrMalformed, Operation: "series", Err: fmt.Errorf("payload is %T", payload)}
		}
		rows, _ := root["series"].([]any)
		for _, raw := range rows {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			id, ok := numberAt(item, "id")
			if !ok {
				continue
			}
			title := stringAt(item, "title")
			seriesURL := stringAt(item, "url")
			broadcastRaw := stringAt(item, "radio_broadcast")
			if title == "" || seriesURL == "" || broadcastRaw == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			var broadcasts []string
			for _, b := range strings.Split(broadcastRaw, ",") {
				if b = strings.TrimSpace(b); b != "" {
					broadcasts = append(broadcasts, b)
				}
			}
			out = append(out, Series{
				ID:           id,
				Title:        title,
				Broadcasts:   broadcasts,
				URL:          seriesURL,
				ThumbnailURL: stringAt(item, "thumbnail_url"),
				ScheduleText: stringAt(item, "schedule"),
				AreaName:     stringAt(item, "area"),
			})
		}
	}
	c.debugf("series index fetched: %d rows", len(out))
	return out, nil
}

// ExtractSeriesCode pulls the series code out of a programme page URL
// without any network round-trip. Returns "" when the path carries no code.
func ExtractSeriesCode(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if m := seriesCodePattern.FindStringSubmatch(u.Path); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

// ResolveSeriesCode resolves a programme page URL to its series code. URLs
// already carrying an /rs/<code> path segment resolve locally; otherwise a
// no-redirect HEAD request is issued and the Location header re-examined.
// Falls back to the last path segment.
func (c *Client) ResolveSeriesCode(ctx context.Context, rawURL string) (string, error) {
	if code := ExtractSeriesCode(rawURL); code != "" {
		return code, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", &APIError{Sentinel: ErrMalformed, Operation: "resolve", Err: err}
	}
	noRedirect := &http.Client{
		Timeout: c.http.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	res, err := noRedirect.Do(req)
	if err == nil {
		location := strings.TrimSpace(res.Header.Get("Location"))
		_ = res.Body.Close()
		if code := ExtractSeriesCode(location); code != "" {
			return code, nil
		}
	} else {
		c.logger.Debug().Err(err).Str("url", rawURL).Msg("series resolve HEAD failed")
	}

	u, perr := url.Parse(rawURL)
	if perr != nil {
		return "", &APIError{Sentinel: ErrMalformed, Operation: "resolve", Err: perr}
	}
	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(parts) == 0 {
		return "", nil
	}
	return parts[len(parts)-1], nil
}

func numberAt(obj map[string]any, name string) (int, bool) {
	switch v := obj[name].(type) {
	case float64:
		return int(v), true
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}
