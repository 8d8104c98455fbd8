package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const geocodeBody = `{"results":[{"latitude":52.52,"longitude":13.405,"name":"Berlin"}]}`

const forecastBody = `{
	"current":{"temperature_2m":21.4,"weather_code":61},
	"daily":{"temperature_2m_max":[24.1],"temperature_2m_min":[14.3]}
}`

func testClient(t *testing.T, geocode, forecast http.HandlerFunc) *Client {
	t.Helper()

	geoSrv := httptest.NewServer(geocode)
	t.Cleanup(geoSrv.Close)
	fcSrv := httptest.NewServer(forecast)
	t.Cleanup(fcSrv.Close)

	c := NewClient("Berlin", time.Second)
	c.geocodeURL = geoSrv.URL
	c.forecastURL = fcSrv.URL
	c.backoff = time.Millisecond
	return c
}

func TestClient_Fetch(t *testing.T) {
	t.Run("maps forecast into report", func(t *testing.T) {
		c := testClient(t,
			func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Berlin", r.URL.Query().Get("name"))
				w.Write([]byte(geocodeBody))
			},
			func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "52.5200", r.URL.Query().Get("latitude"))
				w.Write([]byte(forecastBody))
			})

		report := c.Fetch(context.Background())
		require.NotNil(t, report.Current.Temp)
		assert.InDelta(t, 21.4, *report.Current.Temp, 0.001)
		assert.Equal(t, "Rain", report.Current.Condition)
		assert.Equal(t, "rain", report.Current.Icon)
		require.NotNil(t, report.Today.High)
		assert.InDelta(t, 24.1, *report.Today.High, 0.001)
		require.NotNil(t, report.Today.Low)
		assert.InDelta(t, 14.3, *report.Today.Low, 0.001)
	})

	t.Run("geocode cached across fetches", func(t *testing.T) {
		var geoCalls int32
		c := testClient(t,
			func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&geoCalls, 1)
				w.Write([]byte(geocodeBody))
			},
			func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(forecastBody)) })

		c.Fetch(context.Background())
		c.Fetch(context.Background())
		assert.Equal(t, int32(1), atomic.LoadInt32(&geoCalls))
	})

	t.Run("forecast failure yields null-filled shape", func(t *testing.T) {
		c := testClient(t,
			func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(geocodeBody)) },
			func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) })

		report := c.Fetch(context.Background())
		assert.Nil(t, report.Current.Temp)
		assert.Nil(t, report.Today.High)
		assert.Nil(t, report.Today.Low)
		assert.Empty(t, report.Current.Condition)
	})

	t.Run("no geocoding match yields null-filled shape", func(t *testing.T) {
		c := testClient(t,
			func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"results":[]}`)) },
			func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(forecastBody)) })

		report := c.Fetch(context.Background())
		assert.Nil(t, report.Current.Temp)
	})

	t.Run("empty location yields null-filled shape without calls", func(t *testing.T) {
		c := NewClient("", time.Second)
		report := c.Fetch(context.Background())
		assert.Nil(t, report.Current.Temp)
	})

	t.Run("transient forecast failure retried", func(t *testing.T) {
		var fcCalls int32
		c := testClient(t,
			func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(geocodeBody)) },
			func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&fcCalls, 1) < 2 {
					w.WriteHeader(http.StatusBadGateway)
					return
				}
				w.Write([]byte(forecastBody))
			})

		report := c.Fetch(context.Background())
		require.NotNil(t, report.Current.Temp)
		assert.Equal(t, int32(2), atomic.LoadInt32(&fcCalls))
	})
}

func TestDescribeWeatherCode(t *testing.T) {
	tbl := []struct {
		code      int
		condition string
		icon      string
	}{
		{0, "Clear", "clear"},
		{2, "Partly cloudy", "partly-cloudy"},
		{3, "Overcast", "cloudy"},
		{45, "Fog", "fog"},
		{53, "Drizzle", "drizzle"},
		{65, "Rain", "rain"},
		{73, "Snow", "snow"},
		{81, "Showers", "rain"},
		{86, "Snow showers", "snow"},
		{95, "Thunderstorm", "thunderstorm"},
		{42, "Unknown", "na"},
	}

	for _, tc := range tbl {
		condition, icon := describeWeatherCode(tc.code)
		assert.Equal(t, tc.condition, condition, "code %d", tc.code)
		assert.Equal(t, tc.icon, icon, "code %d", tc.code)
	}
}
