// Package usgs fetches instantaneous gauge readings from the USGS Water
// Services IV API.
package usgs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/couchcryptid/river-alert-service/internal/domain"
)

const defaultBaseURL = "https://waterservices.usgs.gov/nwis/iv/"

// USGS parameter codes for gauge height and discharge.
const (
	paramGaugeHeight = "00065"
	paramDischarge   = "00060"
)

var siteIDRe = regexp.MustCompile(`(\d{8,})`)

// Client fetches gauge readings. It implements
// pipeline.ObservationSource.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	userAgent   string
	trendWindow time.Duration
	logger      *slog.Logger
}

// NewClient creates a USGS IV API client. trendWindow bounds the sample
// history requested per fetch.
func NewClient(timeout, trendWindow time.Duration, userAgent string, logger *slog.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     defaultBaseURL,
		userAgent:   userAgent,
		trendWindow: trendWindow,
		logger:      logger,
	}
}

// NormalizeSiteID returns the digits-only USGS site id. Text wrappers
// like "Foo (USGS 03572690)" yield the last run of 8+ digits.
func NormalizeSiteID(site string) (string, error) {
	s := strings.TrimSpace(site)
	if s != "" && strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) < 0 {
		return s, nil
	}
	matches := siteIDRe.FindAllString(s, -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("no USGS site id in %q", site)
	}
	return matches[len(matches)-1], nil
}

// Fetch requests gauge height and discharge for the entity's site in one
// call, covering the trend window so the same response yields both the
// latest reading and the sample history.
func (c *Client) Fetch(ctx context.Context, entity domain.EntityConfig) (domain.Reading, []domain.Sample, error) {
	siteID, err := NormalizeSiteID(entity.ID)
	if err != nil {
		return domain.Reading{}, nil, err
	}

	params := url.Values{
		"sites":       {siteID},
		"parameterCd": {paramGaugeHeight + "," + paramDischarge},
		"format":      {"json"},
		"period":      {fmt.Sprintf("PT%dH", int(c.trendWindow.Hours()))},
	}

	var resp ivResponse
	if err := c.get(ctx, c.baseURL+"?"+params.Encode(), &resp); err != nil {
		return domain.Reading{}, nil, err
	}

	return c.parse(entity, resp)
}

func (c *Client) get(ctx context.Context, fullURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("usgs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("usgs API error: status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode usgs response: %w", err)
	}
	return nil
}

// parse extracts the latest reading per variable and the trend-kind
// sample series. Empty point values happen during sensor outages and
// are skipped, never treated as zero.
func (c *Client) parse(entity domain.EntityConfig, resp ivResponse) (domain.Reading, []domain.Sample, error) {
	reading := domain.Reading{EntityID: entity.ID, Source: "usgs"}
	var samples []domain.Sample

	trendParam := paramGaugeHeight
	if entity.TrendKind() == domain.MeasureFlow {
		trendParam = paramDischarge
	}

	for _, series := range resp.Value.TimeSeries {
		if len(series.Variable.VariableCode) == 0 || len(series.Values) == 0 {
			continue
		}
		code := series.Variable.VariableCode[0].Value

		var kind string
		switch code {
		case paramGaugeHeight, paramDischarge:
			kind = code
		default:
			continue
		}

		points := series.Values[0].Value
		var lastObs *domain.Observation
		for _, p := range points {
			if strings.TrimSpace(p.Value) == "" {
				continue
			}
			obs, err := domain.Normalize(domain.RawObservation{
				EntityID:  entity.ID,
				Kind:      kind,
				Value:     p.Value,
				Timestamp: p.DateTime,
				Source:    "usgs",
			})
			if err != nil {
				c.logger.Warn("skipping unparseable point",
					"entity", entity.ID, "variable", code, "error", err)
				continue
			}
			if kind == trendParam {
				samples = append(samples, domain.Sample{Value: obs.Value, At: obs.At})
			}
			lastObs = &obs
		}

		if lastObs == nil {
			continue
		}
		switch code {
		case paramGaugeHeight:
			reading.Level = &lastObs.Value
		case paramDischarge:
			reading.Flow = &lastObs.Value
		}
		if lastObs.At.After(reading.ObservedAt) {
			reading.ObservedAt = lastObs.At
		}
	}

	if reading.Level == nil && reading.Flow == nil {
		return domain.Reading{}, nil, fmt.Errorf("usgs returned no usable values for site %s", entity.ID)
	}
	return reading, samples, nil
}

// USGS IV API response types, trimmed to the fields consumed.

type ivResponse struct {
	Value struct {
		TimeSeries []ivTimeSeries `json:"timeSeries"`
	} `json:"value"`
}

type ivTimeSeries struct {
	Variable struct {
		VariableCode []struct {
			Value string `json:"value"`
		} `json:"variableCode"`
	} `json:"variable"`
	Values []struct {
		Value []ivPoint `json:"value"`
	} `json:"values"`
}

type ivPoint struct {
	Value    string `json:"value"`
	DateTime string `json:"dateTime"`
}
