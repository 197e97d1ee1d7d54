package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/powerwatch/pkg/common"
	"github.com/raterudder/powerwatch/pkg/log"
	"github.com/raterudder/powerwatch/pkg/types"
)

const (
	gatewayLoginPath = "api/login/Basic"
	gatewayTimeout   = 5 * time.Second
)

// Gateway implements the Source interface for a local Tesla Backup Gateway.
// The gateway serves a self-signed certificate so TLS verification is
// skipped.
type Gateway struct {
	client   *http.Client
	baseURL  string
	email    string
	password string
	tokenStr string
	version  string
	mu       sync.Mutex
}

func newGateway(addr string) *Gateway {
	return &Gateway{
		client:  common.InsecureHTTPClient(gatewayTimeout),
		baseURL: gatewayBaseURL(addr),
	}
}

func gatewayBaseURL(addr string) string {
	if addr == "" || strings.Contains(addr, "://") {
		return addr
	}
	return "https://" + addr
}

// configuredGateway sets up the gateway source from flags.
func configuredGateway() *Gateway {
	addr := lflag.String("gateway-addr", os.Getenv("BACKUP_GW_ADDR"), "Host (or URL) of the local Tesla Backup Gateway")

	g := newGateway("")

	lflag.Do(func() {
		g.baseURL = gatewayBaseURL(*addr)
	})

	return g
}

// Validate checks if the gateway is properly configured.
func (g *Gateway) Validate() error {
	if g.baseURL == "" {
		return errors.New("gateway-addr is required")
	}
	return nil
}

// Channels returns the meters reported by the gateway aggregates.
func (g *Gateway) Channels() []string {
	return append([]string(nil), types.DefaultChannels...)
}

// Timeout returns the recommended fetch deadline.
func (g *Gateway) Timeout() time.Duration {
	return gatewayTimeout
}

// Version returns the firmware version pinned on the first connection.
func (g *Gateway) Version() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.version
}

// Authenticate stores the credentials and logs in. The gateway only needs a
// password but older firmware also expects the owner's email.
func (g *Gateway) Authenticate(ctx context.Context, creds map[string]string) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if creds["password"] == "" {
		return fmt.Errorf("%w: missing gateway password", ErrFetch)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.email = creds["email"]
	g.password = creds["password"]
	g.tokenStr = ""
	if err := g.ensureLogin(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return nil
}

type gatewayLoginRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	ForceSMOff bool   `json:"force_sm_off"`
}

type gatewayLoginResult struct {
	Email     string   `json:"email"`
	Token     string   `json:"token"`
	Roles     []string `json:"roles"`
	LoginTime string   `json:"loginTime"`
}

type gatewayStatus struct {
	DIN           string `json:"din"`
	Version       string `json:"version"`
	GitHash       string `json:"git_hash"`
	UpTimeSeconds string `json:"up_time_seconds"`
}

type gatewaySOE struct {
	Percentage float64 `json:"percentage"`
}

type gatewayMeter struct {
	LastCommunicationTime string  `json:"last_communication_time"`
	InstantPower          float64 `json:"instant_power"`
	Frequency             float64 `json:"frequency"`
	EnergyExported        float64 `json:"energy_exported"`
	EnergyImported        float64 `json:"energy_imported"`
}

type gatewayError struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ensureLogin logs in if there is no token and pins the firmware version on
// the first successful connection.
func (g *Gateway) ensureLogin(ctx context.Context) error {
	if g.tokenStr == "" {
		token, err := g.login(ctx)
		if err != nil {
			return fmt.Errorf("failed to login: %w", err)
		}
		g.tokenStr = token
	}

	if g.version == "" {
		req, err := g.newGetRequest(ctx, "api/status")
		if err != nil {
			return err
		}
		var st gatewayStatus
		if err := g.doRequest(req, &st); err != nil {
			return fmt.Errorf("failed to get gateway status: %w", err)
		}
		g.version = st.Version
		log.Ctx(ctx).InfoContext(
			ctx,
			"detected and pinned gateway version",
			slog.String("version", st.Version),
			slog.String("din", st.DIN),
			slog.String("upTime", st.UpTimeSeconds),
		)
	}
	return nil
}

func (g *Gateway) login(ctx context.Context) (string, error) {
	if g.password == "" {
		return "", errors.New("missing password")
	}

	req, err := g.newPostJSONRequest(ctx, gatewayLoginPath, gatewayLoginRequest{
		Username: "customer",
		Email:    g.email,
		Password: g.password,
	})
	if err != nil {
		return "", err
	}

	var res gatewayLoginResult
	if err := g.doRequest(req, &res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "gateway login failed", slog.Any("error", err))
		return "", fmt.Errorf("login failed: %w", err)
	}
	if res.Token == "" {
		return "", errors.New("login response missing token")
	}
	log.Ctx(ctx).DebugContext(ctx, "gateway login success", slog.String("email", res.Email))
	return res.Token, nil
}

func (g *Gateway) newGetRequest(ctx context.Context, endpoint string) (*http.Request, error) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, "GET", u.String(), nil)
}

func (g *Gateway) newPostJSONRequest(ctx context.Context, endpoint string, data interface{}) (*http.Request, error) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (g *Gateway) doRequest(req *http.Request, dest interface{}) error {
	isLogin := strings.HasSuffix(req.URL.Path, gatewayLoginPath)

	// we try up to 2 times because the gateway expires tokens after a while
	for i := 0; i < 2; i++ {
		if !isLogin {
			req.Header.Set("Authorization", "Bearer "+g.tokenStr)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode != http.StatusOK {
			if (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) && !isLogin && g.tokenStr != "" && i == 0 {
				log.Ctx(req.Context()).DebugContext(req.Context(), "gateway token expired")
				g.tokenStr = ""
				if err := g.ensureLogin(req.Context()); err != nil {
					return err
				}
				continue
			}
			var ge gatewayError
			if json.Unmarshal(body, &ge) == nil && (ge.Error != "" || ge.Message != "") {
				log.Ctx(req.Context()).ErrorContext(req.Context(), "gateway api error", slog.Int("status", resp.StatusCode), slog.String("error", ge.Error), slog.String("message", ge.Message))
				return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(ge.Error+" "+ge.Message))
			}
			return fmt.Errorf("status %d", resp.StatusCode)
		}

		if dest != nil {
			if err := json.Unmarshal(body, dest); err != nil {
				log.Ctx(req.Context()).ErrorContext(req.Context(), "failed to decode gateway response", slog.Any("error", err), slog.String("body", string(body)))
				return fmt.Errorf("failed to decode gateway response: %w", err)
			}
		}
		return nil
	}
	return errors.New("gateway rejected the token after logging in again")
}

// Fetch reads the battery charge and the meter aggregates.
func (g *Gateway) Fetch(ctx context.Context) (types.Sample, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensureLogin(ctx); err != nil {
		return types.Sample{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	req, err := g.newGetRequest(ctx, "api/system_status/soe")
	if err != nil {
		return types.Sample{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	var soe gatewaySOE
	if err := g.doRequest(req, &soe); err != nil {
		return types.Sample{}, fmt.Errorf("%w: soe: %w", ErrFetch, err)
	}

	req, err = g.newGetRequest(ctx, "api/meters/aggregates")
	if err != nil {
		return types.Sample{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	var meters map[string]gatewayMeter
	if err := g.doRequest(req, &meters); err != nil {
		return types.Sample{}, fmt.Errorf("%w: meters: %w", ErrFetch, err)
	}

	s := types.Sample{
		Timestamp:  time.Now(),
		BatteryPct: soe.Percentage,
		Channels:   make(map[string]float64, len(types.DefaultChannels)),
	}
	for _, name := range types.DefaultChannels {
		m, ok := meters[name]
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "gateway did not report meter", slog.String("meter", name))
			continue
		}
		s.Channels[name] = m.InstantPower
	}

	log.Ctx(ctx).DebugContext(ctx, "gateway sample",
		slog.Float64("batteryPct", s.BatteryPct),
		slog.Float64("site", s.Channels[types.ChannelSite]),
		slog.Float64("battery", s.Channels[types.ChannelBattery]),
		slog.Float64("load", s.Channels[types.ChannelLoad]),
		slog.Float64("solar", s.Channels[types.ChannelSolar]),
	)
	return s, nil
}
