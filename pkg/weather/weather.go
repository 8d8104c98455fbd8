// Package weather is a thin proxy over the Open-Meteo geocoding and forecast
// APIs. It returns a small fixed-shape report; failures produce the same
// shape with null readings rather than an error, so the display never breaks
// on a weather outage.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-pkgz/repeater/v2"
)

// Report is the shape consumed by the display.
type Report struct {
	Current Current `json:"current"`
	Today   Today   `json:"today"`
}

// Current holds the present conditions. Temp is null when no data is
// available.
type Current struct {
	Temp      *float64 `json:"temp"`
	Condition string   `json:"condition"`
	Icon      string   `json:"icon"`
}

// Today holds the day's forecast range.
type Today struct {
	High *float64 `json:"high"`
	Low  *float64 `json:"low"`
}

// Client looks up a fixed configured location and polls its forecast. The
// geocoding result is cached for the process lifetime since the location is
// fixed configuration.
type Client struct {
	client      *http.Client
	location    string
	geocodeURL  string
	forecastURL string
	backoff     time.Duration

	mu  sync.Mutex
	geo *geoPoint
}

type geoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
}

// NewClient creates a weather client for the given location name.
func NewClient(location string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client:      &http.Client{Timeout: timeout},
		location:    location,
		geocodeURL:  "https://geocoding-api.open-meteo.com/v1/search",
		forecastURL: "https://api.open-meteo.com/v1/forecast",
		backoff:     time.Second,
	}
}

// Fetch returns the current report. It never returns an error: any failure
// is logged and yields the null-filled shape.
func (c *Client) Fetch(ctx context.Context) Report {
	if c.location == "" {
		return Report{}
	}

	geo, err := c.geocode(ctx)
	if err != nil {
		log.Printf("[WARN] weather geocode failed for %q: %v", c.location, err)
		return Report{}
	}

	report, err := c.forecast(ctx, geo)
	if err != nil {
		log.Printf("[WARN] weather forecast failed for %q: %v", c.location, err)
		return Report{}
	}
	return report
}

// geocode resolves the configured location name to coordinates, once.
func (c *Client) geocode(ctx context.Context) (geoPoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.geo != nil {
		return *c.geo, nil
	}

	q := url.Values{"name": {c.location}, "count": {"1"}}
	var resp struct {
		Results []geoPoint `json:"results"`
	}
	if err := c.getJSON(ctx, c.geocodeURL+"?"+q.Encode(), &resp); err != nil {
		return geoPoint{}, err
	}
	if len(resp.Results) == 0 {
		return geoPoint{}, fmt.Errorf("no geocoding match for %q", c.location)
	}

	c.geo = &resp.Results[0]
	log.Printf("[INFO] resolved weather location %q to %.4f,%.4f", c.location, c.geo.Latitude, c.geo.Longitude)
	return *c.geo, nil
}

// forecast fetches current conditions and today's range.
func (c *Client) forecast(ctx context.Context, geo geoPoint) (Report, error) {
	q := url.Values{
		"latitude":      {fmt.Sprintf("%.4f", geo.Latitude)},
		"longitude":     {fmt.Sprintf("%.4f", geo.Longitude)},
		"current":       {"temperature_2m,weather_code"},
		"daily":         {"temperature_2m_max,temperature_2m_min"},
		"forecast_days": {"1"},
		"timezone":      {"auto"},
	}

	var resp struct {
		Current struct {
			Temperature *float64 `json:"temperature_2m"`
			WeatherCode int      `json:"weather_code"`
		} `json:"current"`
		Daily struct {
			High []float64 `json:"temperature_2m_max"`
			Low  []float64 `json:"temperature_2m_min"`
		} `json:"daily"`
	}
	if err := c.getJSON(ctx, c.forecastURL+"?"+q.Encode(), &resp); err != nil {
		return Report{}, err
	}

	condition, icon := describeWeatherCode(resp.Current.WeatherCode)
	report := Report{Current: Current{Temp: resp.Current.Temperature, Condition: condition, Icon: icon}}
	if len(resp.Daily.High) > 0 {
		report.Today.High = &resp.Daily.High[0]
	}
	if len(resp.Daily.Low) > 0 {
		report.Today.Low = &resp.Daily.Low[0]
	}
	return report, nil
}

// getJSON performs a GET with retries and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	retrier := repeater.NewBackoff(3, c.backoff, repeater.WithBackoffType(repeater.BackoffLinear))
	return retrier.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

// describeWeatherCode maps a WMO weather code to a display condition and
// icon name.
func describeWeatherCode(code int) (condition, icon string) {
	switch {
	case code == 0:
		return "Clear", "clear"
	case code <= 2:
		return "Partly cloudy", "partly-cloudy"
	case code == 3:
		return "Overcast", "cloudy"
	case code == 45 || code == 48:
		return "Fog", "fog"
	case code >= 51 && code <= 57:
		return "Drizzle", "drizzle"
	case code >= 61 && code <= 67:
		return "Rain", "rain"
	case code >= 71 && code <= 77:
		return "Snow", "snow"
	case code >= 80 && code <= 82:
		return "Showers", "rain"
	case code == 85 || code == 86:
		return "Snow showers", "snow"
	case code >= 95:
		return "Thunderstorm", "thunderstorm"
	default:
		return "Unknown", "na"
	}
}
