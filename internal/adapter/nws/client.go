// Package nws fetches quantitative precipitation forecasts from the
// National Weather Service gridpoint API and apportions them into local
// calendar days.
package nws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/river-alert-service/internal/domain"
)

const defaultBaseURL = "https://api.weather.gov"

// Client resolves grid coordinates and fetches QPF values. NWS requires
// a descriptive User-Agent with contact information.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	days       int
	clock      clockwork.Clock
	logger     *slog.Logger

	mu    sync.Mutex
	grids map[string]gridRef // keyed by "lat,lon", grid assignment never changes
}

type gridRef struct {
	id       string
	x, y     int
	timezone string
}

// NewClient creates an NWS gridpoint client. The contact address is
// folded into the User-Agent per the API's terms.
func NewClient(timeout time.Duration, userAgent, contact string, days int, clock clockwork.Clock, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultBaseURL,
		userAgent:  fmt.Sprintf("%s (%s)", userAgent, contact),
		days:       days,
		clock:      clock,
		logger:     logger,
	}
}

// DailyPrecip returns forecast precipitation in inches per local
// calendar day for the entity's coordinates, covering today plus the
// configured horizon. It implements pipeline.ForecastSource.
func (c *Client) DailyPrecip(ctx context.Context, entity domain.EntityConfig) (domain.DailyPrecip, error) {
	grid, err := c.resolveGrid(ctx, entity.Lat, entity.Lon)
	if err != nil {
		return nil, err
	}

	loc := entity.Timezone
	if loc == nil {
		if loc, err = time.LoadLocation(grid.timezone); err != nil {
			loc = time.UTC
		}
	}

	var gp gridpointResponse
	u := fmt.Sprintf("%s/gridpoints/%s/%d,%d", c.baseURL, grid.id, grid.x, grid.y)
	if err := c.get(ctx, u, &gp); err != nil {
		return nil, err
	}

	intervals := make([]domain.ForecastInterval, 0, len(gp.Properties.QPF.Values))
	for _, v := range gp.Properties.QPF.Values {
		if v.Value == nil {
			continue
		}
		start, dur, err := domain.ParseValidTime(v.ValidTime)
		if err != nil {
			c.logger.Warn("skipping unparseable QPF interval",
				"entity", entity.ID, "valid_time", v.ValidTime, "error", err)
			continue
		}
		intervals = append(intervals, domain.ForecastInterval{
			Start:    start,
			Duration: dur,
			Amount:   *v.Value,
		})
	}

	daily := domain.ApportionDaily(intervals, loc, c.logger)
	return daily.ToInches().Window(c.clock.Now().In(loc), c.days, loc), nil
}

// resolveGrid maps coordinates to an NWS grid cell. Assignments are
// static so they are memoized for the life of the process.
func (c *Client) resolveGrid(ctx context.Context, lat, lon float64) (gridRef, error) {
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)

	c.mu.Lock()
	if c.grids == nil {
		c.grids = make(map[string]gridRef)
	}
	if grid, ok := c.grids[key]; ok {
		c.mu.Unlock()
		return grid, nil
	}
	c.mu.Unlock()

	var points pointsResponse
	if err := c.get(ctx, fmt.Sprintf("%s/points/%s", c.baseURL, key), &points); err != nil {
		return gridRef{}, err
	}
	if points.Properties.GridID == "" {
		return gridRef{}, fmt.Errorf("nws points lookup for %s returned no grid", key)
	}

	grid := gridRef{
		id:       points.Properties.GridID,
		x:        points.Properties.GridX,
		y:        points.Properties.GridY,
		timezone: points.Properties.TimeZone,
	}

	c.mu.Lock()
	c.grids[key] = grid
	c.mu.Unlock()
	return grid, nil
}

func (c *Client) get(ctx context.Context, fullURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("nws request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("nws API error: status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode nws response: %w", err)
	}
	return nil
}

// NWS API response types, trimmed to the fields consumed.

type pointsResponse struct {
	Properties struct {
		GridID   string `json:"gridId"`
		GridX    int    `json:"gridX"`
		GridY    int    `json:"gridY"`
		TimeZone string `json:"timeZone"`
	} `json:"properties"`
}

type gridpointResponse struct {
	Properties struct {
		QPF struct {
			Values []qpfValue `json:"values"`
		} `json:"quantitativePrecipitation"`
	} `json:"properties"`
}

type qpfValue struct {
	ValidTime string   `json:"validTime"`
	Value     *float64 `json:"value"` // millimeters, null during gaps
}
