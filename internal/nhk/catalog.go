package nhk

import (
	"context"
	"encoding/xml"
	"strings"
)

// StreamCatalog returns the area-to-HLS mapping, cached with the same TTL
// and coalescing behaviour as the series index.
func (c *Client) StreamCatalog(ctx context.Context) (*Catalog, error) {
	c.mu.Lock()
	if c.catalogCache != nil && c.clock.Now().Before(c.catalogExp) {
		cached := c.catalogCache
		c.mu.Unlock()
		return cached, nil
	}
	stale := c.catalogCache
	c.mu.Unlock()

	v, err, _ := c.group.Do("catalog", func() (any, error) {
		catalog, err := c.fetchCatalog(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.catalogCache = catalog
		c.catalogExp = c.clock.Now().Add(c.cacheTTL)
		c.mu.Unlock()
		return catalog, nil
	})
	if err != nil {
		if stale != nil {
			c.logger.Warn().Err(err).Msg("stream catalog refresh failed, serving stale cache")
			return stale, nil
		}
		return nil, err
	}
	return v.(*Catalog), nil
}

func (c *Client) fetchCatalog(ctx context.Context) (*Catalog, error) {
	body, err := c.getText(ctx, "stream_config", c.configURL)
	if err != nil {
		return nil, err
	}
	// The document root element name is not stable; scan for <data>
	// descendants instead of binding to a fixed root.
	dec := xml.NewDecoder(strings.NewReader(body))
	catalog := &Catalog{areas: make(map[string]Area)}
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "data" {
			continue
		}
		var row struct {
			AreaJP  string `xml:"areajp"`
			Area    string `xml:"area"`
			AreaKey string `xml:"areakey"`
			APIKey  string `xml:"apikey"`
			R1HLS   string `xml:"r1hls"`
			R2HLS   string `xml:"r2hls"`
			FMHLS   string `xml:"fmhls"`
		}
		if err := dec.DecodeElement(&row, &start); err != nil {
			return nil, &APIError{Sentinel: ErrMalformed, Operation: "stream_config", Err: err}
		}
		key := strings.TrimSpace(row.AreaKey)
		streams := map[string]string{}
		for k, v := range map[string]string{"r1": row.R1HLS, "r2": row.R2HLS, "fm": row.FMHLS} {
			if v = strings.TrimSpace(v); v != "" {
				streams[k] = v
			}
		}
		if key == "" || len(streams) == 0 {
			continue
		}
		area := Area{
			Key:       key,
			Slug:      strings.TrimSpace(row.Area),
			NameJP:    strings.TrimSpace(row.AreaJP),
			StationID: strings.TrimSpace(row.APIKey),
			Streams:   streams,
		}
		catalog.areas[normalizeAreaID(key)] = area
		if area.Slug != "" {
			if _, exists := catalog.areas[normalizeAreaID(area.Slug)]; !exists {
				catalog.areas[normalizeAreaID(area.Slug)] = area
			}
		}
	}
	if len(catalog.areas) == 0 {
		return nil, &APIError{Sentinel: ErrMalformed, Operation: "stream_config", Err: errNoAreas}
	}
	return catalog, nil
}

var errNoAreas = &noAreasError{}

type noAreasError struct{}

func (*noAreasError) Error() string { return "no usable <data> rows in stream config" }

// StreamURL resolves the live HLS playlist URL for a service in an area.
// The service mapping is fixed: r1→r1, r2→r2, r3→fm.
func (c *Client) StreamURL(ctx context.Context, serviceID, areaID string) (string, error) {
	catalog, err := c.StreamCatalog(ctx)
	if err != nil {
		return "", err
	}
	area, ok := catalog.Area(areaID)
	if !ok {
		return "", &APIError{Sentinel: ErrNotFound, Operation: "stream_url", Err: &areaError{areaID}}
	}
	u, ok := area.Streams[StreamKey(serviceID)]
	if !ok {
		return "", &APIError{Sentinel: ErrNotFound, Operation: "stream_url", Err: &serviceError{serviceID, areaID}}
	}
	return u, nil
}

type areaError struct{ areaID string }

func (e *areaError) Error() string { return "area not in stream catalog: " + e.areaID }

type serviceError struct{ serviceID, areaID string }

func (e *serviceError) Error() string {
	return "no stream for service " + e.serviceID + " in area " + e.areaID
}
