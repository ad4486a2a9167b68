package credits

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/bigbear0079/jimeng-pool/internal/model"
)

// Gateway exposes the external credit capabilities for one credential.
// Every call reports ok=false on an invalid credential or an unreachable
// upstream; retries are the caller's responsibility.
type Gateway interface {
	Points(ctx context.Context, token string) (model.CreditBundle, bool)
	Claim(ctx context.Context, token string) (model.CreditBundle, bool)
	WhoAmI(ctx context.Context, token string) (userID string, ok bool)
}

// passport endpoints by region, used for best-effort token verification.
var passportAPI = map[string]struct {
	baseURL string
	aid     int
}{
	model.RegionUS: {"https://dreamina-api.us.capcut.com", 513641},
	model.RegionHK: {"https://mweb-api-sg.capcut.com", 513641},
	model.RegionJP: {"https://mweb-api-sg.capcut.com", 513641},
	model.RegionSG: {"https://mweb-api-sg.capcut.com", 513641},
	model.RegionCN: {"https://jimeng.jianying.com", 513695},
}

// HTTPGateway talks to the local jimeng-api gateway for points and claim,
// and to the regional passport API for whoami.
type HTTPGateway struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPGateway creates a gateway client with optional proxy support.
func NewHTTPGateway(baseURL, proxyURL string) *HTTPGateway {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &HTTPGateway{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
	}
}

// pointsEntry is the expected JSON shape of one /token/points result.
type pointsEntry struct {
	Points  model.CreditBundle `json:"points"`
	Credits model.CreditBundle `json:"credits"`
}

// Points queries the current credit balance for a credential.
func (g *HTTPGateway) Points(ctx context.Context, token string) (model.CreditBundle, bool) {
	entries, err := g.postToken(ctx, "/token/points", token)
	if err != nil {
		log.Printf("[WARN] points query failed: %v", err)
		return model.CreditBundle{}, false
	}
	if len(entries) == 0 {
		return model.CreditBundle{}, false
	}
	return entries[0].Points, true
}

// Claim redeems the daily credit grant for a credential.
func (g *HTTPGateway) Claim(ctx context.Context, token string) (model.CreditBundle, bool) {
	entries, err := g.postToken(ctx, "/token/receive", token)
	if err != nil {
		log.Printf("[WARN] daily claim failed: %v", err)
		return model.CreditBundle{}, false
	}
	if len(entries) == 0 {
		return model.CreditBundle{}, false
	}
	return entries[0].Credits, true
}

func (g *HTTPGateway) postToken(ctx context.Context, path, token string) ([]pointsEntry, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", g.BaseURL+path, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}
	var entries []pointsEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return entries, nil
}

// WhoAmI verifies a credential against the regional passport API and returns
// the upstream user id. Verification is best-effort only.
func (g *HTTPGateway) WhoAmI(ctx context.Context, token string) (string, bool) {
	region, sessionID := model.ParseToken(token)
	api, ok := passportAPI[region]
	if !ok {
		return "", false
	}

	endpoint := fmt.Sprintf("%s/passport/account/info/v2?aid=%d&account_sdk_source=web", api.baseURL, api.aid)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", false
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", "sessionid="+sessionID)
	req.Header.Set("Origin", api.baseURL)
	req.Header.Set("Referer", api.baseURL)

	resp, err := g.Client.Do(req)
	if err != nil {
		log.Printf("[WARN] whoami failed: %v", err)
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var result struct {
		Ret  string `json:"ret"`
		Data struct {
			UserID json.Number `json:"user_id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false
	}
	if result.Data.UserID != "" {
		return result.Data.UserID.String(), true
	}
	return "", result.Ret == "0"
}
