package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/raterudder/powerwatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloud struct {
	mu        sync.Mutex
	access    string
	refreshes int
	products  []map[string]interface{}
}

func (f *fakeCloud) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if r.URL.Path == "/oauth2/v3/token" {
			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "refresh_token", req["grant_type"])
			assert.Equal(t, "ownerapi", req["client_id"])
			if req["refresh_token"] != "refresh-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			f.refreshes++
			f.access = "access-2"
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token":  "access-2",
				"refresh_token": "refresh-2",
				"expires_in":    28800,
				"token_type":    "Bearer",
			})
			return
		}

		if r.Header.Get("Authorization") != "Bearer "+f.access {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{"response": nil, "error": "invalid bearer token"})
			return
		}

		respond := func(v interface{}) {
			json.NewEncoder(w).Encode(map[string]interface{}{"response": v})
		}
		switch r.URL.Path {
		case "/api/1/products":
			respond(f.products)
		case "/api/1/energy_sites/12345/site_info":
			respond(map[string]interface{}{
				"site_name":              "Home",
				"backup_reserve_percent": 20,
				"default_real_mode":      "self_consumption",
				"version":                "23.44.0",
				"battery_count":          2,
			})
		case "/api/1/energy_sites/12345/live_status":
			respond(map[string]interface{}{
				"solar_power":        3000,
				"percentage_charged": 80.5,
				"battery_power":      -1000,
				"load_power":         1500,
				"grid_power":         -500,
				"grid_status":        "Active",
				"timestamp":          "2024-03-10T12:00:00-08:00",
			})
		case "/api/1/energy_sites/12345/calendar_history":
			assert.Equal(t, "day", r.URL.Query().Get("period"))
			assert.Equal(t, "2024-03-10T23:59:59Z", r.URL.Query().Get("end_date"))
			switch r.URL.Query().Get("kind") {
			case "power":
				respond(map[string]interface{}{
					"serial_number": "abc",
					"time_series": []map[string]interface{}{
						{"timestamp": "2024-03-10T00:05:00Z", "solar_power": 0, "battery_power": 500, "grid_power": 250},
						{"timestamp": "2024-03-10T00:00:00Z", "solar_power": 0, "battery_power": 400, "grid_power": 100},
						{"timestamp": "2024-03-10T00:10:00Z", "solar_power": 10, "battery_power": 0, "grid_power": 800},
					},
				})
			case "soe":
				respond(map[string]interface{}{
					"time_series": []map[string]interface{}{
						{"timestamp": "2024-03-10T00:00:00Z", "soe": 61},
						{"timestamp": "2024-03-10T00:10:00Z", "soe": 59},
					},
				})
			default:
				w.WriteHeader(http.StatusBadRequest)
				respond(nil)
			}
		default:
			http.Error(w, "not found: "+r.URL.Path, http.StatusNotFound)
		}
	})
}

func newTestCloud(t *testing.T) (*Cloud, *fakeCloud) {
	f := &fakeCloud{
		access: "access-1",
		products: []map[string]interface{}{
			{"id": 1, "vin": "5YJ3E1EA7KF000000"},
			{"energy_site_id": 12345, "resource_type": "battery", "site_name": "Home"},
		},
	}
	ts := httptest.NewServer(f.handler(t))
	t.Cleanup(ts.Close)
	return &Cloud{
		client:    ts.Client(),
		baseURL:   ts.URL,
		authURL:   ts.URL,
		tokenFile: filepath.Join(t.TempDir(), "token"),
		location:  time.UTC,
	}, f
}

func TestCloud(t *testing.T) {
	ctx := context.Background()

	t.Run("Fetch", func(t *testing.T) {
		c, _ := newTestCloud(t)
		require.NoError(t, c.Authenticate(ctx, map[string]string{"access_token": "access-1"}))
		assert.Equal(t, "12345", c.SiteID())

		s, err := c.Fetch(ctx)
		require.NoError(t, err)
		assert.True(t, s.Timestamp.Equal(time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)))
		assert.Equal(t, 80.5, s.BatteryPct)
		assert.Equal(t, map[string]float64{
			types.ChannelSite:    -500,
			types.ChannelBattery: -1000,
			types.ChannelLoad:    1500,
			types.ChannelSolar:   3000,
		}, s.Channels)
	})

	t.Run("RefreshExpired", func(t *testing.T) {
		c, f := newTestCloud(t)
		require.NoError(t, c.Authenticate(ctx, map[string]string{"access_token": "old", "refresh_token": "refresh-1"}))
		assert.Equal(t, 1, f.refreshes)

		info, err := os.Stat(c.tokenFile)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		b, err := os.ReadFile(c.tokenFile)
		require.NoError(t, err)
		var tok cloudToken
		require.NoError(t, json.Unmarshal(b, &tok))
		assert.Equal(t, "access-2", tok.AccessToken)
		assert.Equal(t, "refresh-2", tok.RefreshToken)
	})

	t.Run("RefreshOnlyCredentials", func(t *testing.T) {
		c, f := newTestCloud(t)
		require.NoError(t, c.Authenticate(ctx, map[string]string{"refresh_token": "refresh-1"}))
		assert.Equal(t, 1, f.refreshes)
		_, err := c.Fetch(ctx)
		require.NoError(t, err)
	})

	t.Run("CachedToken", func(t *testing.T) {
		c, _ := newTestCloud(t)
		require.NoError(t, os.WriteFile(c.tokenFile, []byte(`{"access_token":"access-1","refresh_token":"refresh-1"}`), 0o600))
		require.NoError(t, c.Authenticate(ctx, nil))
		_, err := c.Fetch(ctx)
		require.NoError(t, err)
	})

	t.Run("BadRefresh", func(t *testing.T) {
		c, _ := newTestCloud(t)
		err := c.Authenticate(ctx, map[string]string{"access_token": "old", "refresh_token": "revoked"})
		assert.ErrorIs(t, err, ErrFetch)
	})

	t.Run("NoCredentials", func(t *testing.T) {
		c, _ := newTestCloud(t)
		err := c.Authenticate(ctx, map[string]string{})
		assert.ErrorIs(t, err, ErrFetch)
	})

	t.Run("MultipleSites", func(t *testing.T) {
		c, f := newTestCloud(t)
		f.products = append(f.products, map[string]interface{}{"energy_site_id": 67890, "resource_type": "solar"})
		err := c.Authenticate(ctx, map[string]string{"access_token": "access-1"})
		assert.ErrorIs(t, err, ErrFetch)
		assert.ErrorContains(t, err, "cloud-site-id")

		c.siteID = "12345"
		require.NoError(t, c.Authenticate(ctx, map[string]string{"access_token": "access-1"}))
	})

	t.Run("NoSites", func(t *testing.T) {
		c, f := newTestCloud(t)
		f.products = f.products[:1]
		err := c.Authenticate(ctx, map[string]string{"access_token": "access-1"})
		assert.ErrorIs(t, err, ErrFetch)
	})

	t.Run("NotAuthenticated", func(t *testing.T) {
		c, _ := newTestCloud(t)
		_, err := c.Fetch(ctx)
		assert.ErrorIs(t, err, ErrFetch)
	})

	t.Run("History", func(t *testing.T) {
		c, _ := newTestCloud(t)
		require.NoError(t, c.Authenticate(ctx, map[string]string{"access_token": "access-1"}))

		samples, err := c.History(ctx, time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Len(t, samples, 3)

		assert.True(t, samples[0].Timestamp.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)))
		assert.Equal(t, float64(61), samples[0].BatteryPct)
		assert.Equal(t, float64(500), samples[0].Channels[types.ChannelLoad])

		// no soe point at 00:05 so the previous charge carries forward
		assert.Equal(t, float64(61), samples[1].BatteryPct)
		assert.Equal(t, float64(750), samples[1].Channels[types.ChannelLoad])

		assert.Equal(t, float64(59), samples[2].BatteryPct)
		assert.Equal(t, float64(810), samples[2].Channels[types.ChannelLoad])
		assert.Equal(t, float64(800), samples[2].Channels[types.ChannelSite])
	})
}
