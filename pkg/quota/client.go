package quota

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/synnefo-io/core/internal/apierr"
	"github.com/synnefo-io/core/pkg/types"
)

// Client is the Commission Coordinator's and Storage Façade's view of a
// remote Quotaholder, talking HTTP/JSON over an optionally mTLS-secured
// transport (spec §6). Grounded on the request-shape of Server in api.go;
// there is no teacher gRPC client to adapt (see DESIGN.md's discussion of
// why grpc/protobuf were dropped).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientConfig configures a Client. TLSConfig is nil for plaintext
// loopback deployments and set to an mTLS client config (see pkg/security)
// for cross-host deployments.
type ClientConfig struct {
	BaseURL   string
	TLSConfig *tls.Config
	Timeout   time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{TLSClientConfig: cfg.TLSConfig}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Transport: transport, Timeout: timeout},
	}
}

func (c *Client) post(path string, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return apierr.Internal(err)
	}
	httpResp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return apierr.Internal(fmt.Errorf("quotaholder rpc to %s failed: %w", path, err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		var apiErr struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(httpResp.Body).Decode(&apiErr)
		return apierr.New(types.ErrorKind(apiErr.Kind), apiErr.Message)
	}
	if resp != nil {
		return json.NewDecoder(httpResp.Body).Decode(resp)
	}
	return nil
}

func (c *Client) get(path string, query url.Values, resp interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	httpResp, err := c.httpClient.Get(u)
	if err != nil {
		return apierr.Internal(fmt.Errorf("quotaholder rpc to %s failed: %w", path, err))
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 400 {
		var apiErr struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(httpResp.Body).Decode(&apiErr)
		return apierr.New(types.ErrorKind(apiErr.Kind), apiErr.Message)
	}
	return json.NewDecoder(httpResp.Body).Decode(resp)
}

func (c *Client) GetQuota(filter QuotaFilter) ([]types.Holding, error) {
	var holdings []types.Holding
	err := c.post("/v1/quota", getQuotaRequest{Holders: filter.Holders, Sources: filter.Sources, Resources: filter.Resources}, &holdings)
	return holdings, err
}

func (c *Client) SetQuota(updates []QuotaLimitUpdate) error {
	return c.post("/v1/quota/set", updates, nil)
}

// IssueCommission issues a commission remotely and returns its serial.
func (c *Client) IssueCommission(client, name string, provisions []types.Provision, force bool) (int64, error) {
	var resp struct {
		Serial int64 `json:"serial"`
	}
	err := c.post("/v1/commissions/issue", issueCommissionRequest{
		Client: client, Name: name, Provisions: provisions, Force: force,
	}, &resp)
	return resp.Serial, err
}

func (c *Client) ResolvePendingCommissions(client string, accept, reject []int64, reason string) (ResolveOutcome, error) {
	var outcome ResolveOutcome
	err := c.post("/v1/commissions/resolve", resolveRequest{
		Client: client, Accept: accept, Reject: reject, Reason: reason,
	}, &outcome)
	return outcome, err
}

func (c *Client) GetPendingCommissions(client string) ([]int64, error) {
	var serials []int64
	err := c.get("/v1/commissions/pending", url.Values{"client": {client}}, &serials)
	return serials, err
}

func (c *Client) GetCommission(client string, serial int64) (*types.Commission, error) {
	var commission types.Commission
	err := c.get("/v1/commissions/get", url.Values{
		"client": {client},
		"serial": {fmt.Sprintf("%d", serial)},
	}, &commission)
	if err != nil {
		return nil, err
	}
	return &commission, nil
}
