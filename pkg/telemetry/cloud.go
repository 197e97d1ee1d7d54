package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/natefinch/atomic"
	"github.com/raterudder/powerwatch/pkg/common"
	"github.com/raterudder/powerwatch/pkg/log"
	"github.com/raterudder/powerwatch/pkg/types"
)

const (
	cloudTokenPath = "oauth2/v3/token"
	cloudClientID  = "ownerapi"
	cloudTimeout   = 30 * time.Second
)

// Cloud implements the Source interface for the Tesla owner API. It reads
// the live status of a single energy site.
type Cloud struct {
	client    *http.Client
	baseURL   string
	authURL   string
	tokenFile string
	siteID    string
	location  *time.Location

	mu    sync.Mutex
	token cloudToken
}

type cloudToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	CreatedAt    int64  `json:"created_at,omitempty"`
}

func newCloud() *Cloud {
	return &Cloud{
		client:   common.HTTPClient(cloudTimeout),
		baseURL:  "https://owner-api.teslamotors.com",
		authURL:  "https://auth.tesla.com",
		location: time.Local,
	}
}

func defaultCloudTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tesla-api-token"
	}
	return filepath.Join(home, ".tesla-api-token")
}

// configuredCloud sets up the cloud source from flags.
func configuredCloud() *Cloud {
	apiURL := lflag.String("cloud-api-url", "https://owner-api.teslamotors.com", "Base URL of the Tesla owner API")
	authURL := lflag.String("cloud-auth-url", "https://auth.tesla.com", "Base URL of the Tesla SSO used to refresh tokens")
	tokenFile := lflag.String("cloud-token-file", defaultCloudTokenFile(), "File the owner API tokens are cached in")
	siteID := lflag.String("cloud-site-id", "", "Energy site ID to read (discovered when the account has exactly one)")

	c := newCloud()

	lflag.Do(func() {
		c.baseURL = *apiURL
		c.authURL = *authURL
		c.tokenFile = *tokenFile
		c.siteID = *siteID
	})

	return c
}

// Validate checks if the cloud source is properly configured.
func (c *Cloud) Validate() error {
	if c.baseURL == "" {
		return errors.New("cloud-api-url is required")
	}
	if c.authURL == "" {
		return errors.New("cloud-auth-url is required")
	}
	return nil
}

// SetLocation sets the time zone used to pick calendar days for History.
func (c *Cloud) SetLocation(loc *time.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if loc != nil {
		c.location = loc
	}
}

// Channels returns the channels reported by the live status.
func (c *Cloud) Channels() []string {
	return append([]string(nil), types.DefaultChannels...)
}

// Timeout returns the recommended fetch deadline.
func (c *Cloud) Timeout() time.Duration {
	return cloudTimeout
}

// SiteID returns the energy site being read.
func (c *Cloud) SiteID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.siteID
}

// Authenticate loads the cached token, falling back to the access_token and
// refresh_token credentials, and discovers the energy site.
func (c *Cloud) Authenticate(ctx context.Context, creds map[string]string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tok, err := c.readToken()
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read cached token", slog.String("path", c.tokenFile), slog.Any("error", err))
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		tok = cloudToken{
			AccessToken:  creds["access_token"],
			RefreshToken: creds["refresh_token"],
		}
	} else {
		log.Ctx(ctx).DebugContext(ctx, "restored cloud token from cache", slog.String("path", c.tokenFile))
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return fmt.Errorf("%w: no cached token and no access_token or refresh_token credentials", ErrFetch)
	}
	c.token = tok
	if c.token.AccessToken == "" {
		if err := c.refresh(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrFetch, err)
		}
	}

	if c.siteID == "" {
		id, err := c.discoverSiteID(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrFetch, err)
		}
		log.Ctx(ctx).InfoContext(ctx, "automatically selected energy site", slog.String("siteID", id))
		c.siteID = id
	}

	info, err := c.getSiteInfo(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"energy site info",
		slog.String("siteID", c.siteID),
		slog.String("name", info.SiteName),
		slog.Float64("backupReservePercent", info.BackupReservePercent),
		slog.String("mode", info.DefaultRealMode),
		slog.String("version", info.Version),
		slog.Int("batteryCount", info.BatteryCount),
	)
	return nil
}

func (c *Cloud) readToken() (cloudToken, error) {
	if c.tokenFile == "" {
		return cloudToken{}, nil
	}
	b, err := os.ReadFile(c.tokenFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cloudToken{}, nil
		}
		return cloudToken{}, err
	}
	var tok cloudToken
	if err := json.Unmarshal(b, &tok); err != nil {
		return cloudToken{}, fmt.Errorf("failed to decode token file: %w", err)
	}
	return tok, nil
}

// saveToken writes the token pair to the cache file, readable only by the
// owner.
func (c *Cloud) saveToken() error {
	if c.tokenFile == "" {
		return nil
	}
	b, err := json.Marshal(c.token)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(c.tokenFile, bytes.NewReader(b)); err != nil {
		return err
	}
	return os.Chmod(c.tokenFile, 0o600)
}

func (c *Cloud) refresh(ctx context.Context) error {
	if c.token.RefreshToken == "" {
		return errors.New("access token expired and there is no refresh token")
	}
	u, err := url.Parse(c.authURL)
	if err != nil {
		return err
	}
	u.Path, err = url.JoinPath(u.Path, cloudTokenPath)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     cloudClientID,
		"refresh_token": c.token.RefreshToken,
		"scope":         "openid email offline_access",
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token refresh failed: status %d", resp.StatusCode)
	}

	var tok cloudToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return errors.New("token response missing access_token")
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = c.token.RefreshToken
	}
	tok.CreatedAt = time.Now().Unix()
	c.token = tok
	log.Ctx(ctx).DebugContext(ctx, "refreshed cloud token")

	if err := c.saveToken(); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to cache cloud token", slog.String("path", c.tokenFile), slog.Any("error", err))
	}
	return nil
}

func (c *Cloud) newGetRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	u.RawQuery = params.Encode()
	return http.NewRequestWithContext(ctx, "GET", u.String(), nil)
}

type cloudResponse struct {
	Response json.RawMessage `json:"response"`
	Error    string          `json:"error"`
}

func (c *Cloud) doRequest(req *http.Request, dest interface{}) error {
	// we try up to 2 times because the access token might have expired
	for i := 0; i < 2; i++ {
		req.Header.Set("Authorization", "Bearer "+c.token.AccessToken)

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && i == 0 {
			log.Ctx(req.Context()).DebugContext(req.Context(), "cloud token expired")
			if err := c.refresh(req.Context()); err != nil {
				return err
			}
			continue
		}

		var cr cloudResponse
		if err := json.Unmarshal(body, &cr); err != nil {
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status %d", resp.StatusCode)
			}
			log.Ctx(req.Context()).ErrorContext(req.Context(), "failed to decode cloud response", slog.Any("error", err), slog.String("body", string(body)))
			return err
		}
		if resp.StatusCode != http.StatusOK || cr.Error != "" {
			log.Ctx(req.Context()).ErrorContext(req.Context(), "cloud api error", slog.Int("status", resp.StatusCode), slog.String("error", cr.Error))
			if cr.Error == "" {
				return fmt.Errorf("status %d", resp.StatusCode)
			}
			return fmt.Errorf("cloud api error: %s", cr.Error)
		}

		if dest != nil {
			if err := json.Unmarshal(cr.Response, dest); err != nil {
				log.Ctx(req.Context()).ErrorContext(req.Context(), "failed to decode cloud result", slog.Any("error", err))
				return fmt.Errorf("failed to decode cloud result: %w", err)
			}
		}
		return nil
	}
	return errors.New("cloud rejected the refreshed token")
}

type cloudProduct struct {
	EnergySiteID json.Number `json:"energy_site_id"`
	ResourceType string      `json:"resource_type"`
	SiteName     string      `json:"site_name"`
	VIN          string      `json:"vin"`
}

func (c *Cloud) discoverSiteID(ctx context.Context) (string, error) {
	req, err := c.newGetRequest(ctx, "api/1/products", nil)
	if err != nil {
		return "", err
	}
	var products []cloudProduct
	if err := c.doRequest(req, &products); err != nil {
		return "", fmt.Errorf("products failed: %w", err)
	}

	var ids []string
	for _, p := range products {
		if p.EnergySiteID != "" {
			ids = append(ids, p.EnergySiteID.String())
		}
	}
	switch len(ids) {
	case 0:
		return "", errors.New("no energy sites found on the account")
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("found %d energy sites (%s), set cloud-site-id", len(ids), strings.Join(ids, ", "))
	}
}

type cloudSiteInfo struct {
	SiteName             string  `json:"site_name"`
	BackupReservePercent float64 `json:"backup_reserve_percent"`
	DefaultRealMode      string  `json:"default_real_mode"`
	Version              string  `json:"version"`
	BatteryCount         int     `json:"battery_count"`
}

func (c *Cloud) getSiteInfo(ctx context.Context) (cloudSiteInfo, error) {
	req, err := c.newGetRequest(ctx, "api/1/energy_sites/"+url.PathEscape(c.siteID)+"/site_info", nil)
	if err != nil {
		return cloudSiteInfo{}, err
	}
	var info cloudSiteInfo
	if err := c.doRequest(req, &info); err != nil {
		return cloudSiteInfo{}, fmt.Errorf("site_info failed: %w", err)
	}
	return info, nil
}

type cloudLiveStatus struct {
	SolarPower        float64 `json:"solar_power"`
	PercentageCharged float64 `json:"percentage_charged"`
	BatteryPower      float64 `json:"battery_power"`
	LoadPower         float64 `json:"load_power"`
	GridPower         float64 `json:"grid_power"`
	GridStatus        string  `json:"grid_status"`
	Timestamp         string  `json:"timestamp"`
}

// Fetch reads the live status of the energy site.
func (c *Cloud) Fetch(ctx context.Context) (types.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.siteID == "" {
		return types.Sample{}, fmt.Errorf("%w: not authenticated", ErrFetch)
	}

	req, err := c.newGetRequest(ctx, "api/1/energy_sites/"+url.PathEscape(c.siteID)+"/live_status", nil)
	if err != nil {
		return types.Sample{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	var ls cloudLiveStatus
	if err := c.doRequest(req, &ls); err != nil {
		return types.Sample{}, fmt.Errorf("%w: live_status: %w", ErrFetch, err)
	}

	ts := time.Now()
	if ls.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, ls.Timestamp); err == nil {
			ts = t
		} else {
			log.Ctx(ctx).WarnContext(ctx, "invalid live status timestamp", slog.String("timestamp", ls.Timestamp))
		}
	}

	return types.Sample{
		Timestamp:  ts,
		BatteryPct: ls.PercentageCharged,
		Channels: map[string]float64{
			types.ChannelSite:    ls.GridPower,
			types.ChannelBattery: ls.BatteryPower,
			types.ChannelLoad:    ls.LoadPower,
			types.ChannelSolar:   ls.SolarPower,
		},
	}, nil
}

type cloudPowerPoint struct {
	Timestamp    string  `json:"timestamp"`
	SolarPower   float64 `json:"solar_power"`
	BatteryPower float64 `json:"battery_power"`
	GridPower    float64 `json:"grid_power"`
}

type cloudSOEPoint struct {
	Timestamp string  `json:"timestamp"`
	SOE       float64 `json:"soe"`
}

type cloudHistory[T any] struct {
	SerialNumber string `json:"serial_number"`
	TimeSeries   []T    `json:"time_series"`
}

func (c *Cloud) calendarHistory(ctx context.Context, kind string, end time.Time, dest interface{}) error {
	params := url.Values{}
	params.Set("kind", kind)
	params.Set("period", "day")
	params.Set("end_date", end.Format(time.RFC3339))
	params.Set("time_zone", c.location.String())
	req, err := c.newGetRequest(ctx, "api/1/energy_sites/"+url.PathEscape(c.siteID)+"/calendar_history", params)
	if err != nil {
		return err
	}
	if err := c.doRequest(req, dest); err != nil {
		return fmt.Errorf("calendar_history %s failed: %w", kind, err)
	}
	return nil
}

// History returns the power history of the calendar day containing day.
// The API doesn't report the home load so it is derived from the other
// meters. The battery charge comes from the state of energy history and is
// carried forward for points without a matching entry.
func (c *Cloud) History(ctx context.Context, day time.Time) ([]types.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.siteID == "" {
		return nil, fmt.Errorf("%w: not authenticated", ErrFetch)
	}

	day = day.In(c.location)
	end := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, c.location)

	var power cloudHistory[cloudPowerPoint]
	if err := c.calendarHistory(ctx, "power", end, &power); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	var soe cloudHistory[cloudSOEPoint]
	if err := c.calendarHistory(ctx, "soe", end, &soe); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	soeAt := make(map[int64]float64, len(soe.TimeSeries))
	for _, p := range soe.TimeSeries {
		t, err := time.Parse(time.RFC3339, p.Timestamp)
		if err != nil {
			continue
		}
		soeAt[t.Unix()] = p.SOE
	}

	samples := make([]types.Sample, 0, len(power.TimeSeries))
	for _, p := range power.TimeSeries {
		t, err := time.Parse(time.RFC3339, p.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid history timestamp %q: %w", ErrFetch, p.Timestamp, err)
		}
		samples = append(samples, types.Sample{
			Timestamp: t,
			Channels: map[string]float64{
				types.ChannelSite:    p.GridPower,
				types.ChannelBattery: p.BatteryPower,
				types.ChannelLoad:    p.SolarPower + p.BatteryPower + p.GridPower,
				types.ChannelSolar:   p.SolarPower,
			},
		})
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	var pct float64
	for i := range samples {
		if v, ok := soeAt[samples[i].Timestamp.Unix()]; ok {
			pct = v
		}
		samples[i].BatteryPct = pct
	}

	log.Ctx(ctx).DebugContext(ctx, "cloud history", slog.String("day", end.Format(time.DateOnly)), slog.Int("samples", len(samples)), slog.String("serial", power.SerialNumber))
	return samples, nil
}
