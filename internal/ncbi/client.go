package ncbi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/ncbi-virus-etl/internal/config"
	"github.com/ncbi-virus-etl/internal/logging"
	"github.com/ncbi-virus-etl/internal/model"
)

const maxBodyBytes = 64 << 20

var (
	ErrBadStatus = errors.New("unexpected http status")
	ErrNoSummary = errors.New("summary missing from response")
)

// Client talks to the Entrez E-utilities esearch, esummary and efetch endpoints.
type Client struct {
	HTTP        *http.Client
	SearchURL   string
	SummaryURL  string
	SequenceURL string
	DB          string
	RetMax      int
	// Common holds api_key, tool and email when configured.
	Common url.Values
	Log    *logging.Logger
}

func NewClient(cfg config.Config, lg *logging.Logger) *Client {
	common := url.Values{}
	if cfg.APIKey != "" {
		common.Set("api_key", cfg.APIKey)
	}
	if cfg.Tool != "" {
		common.Set("tool", cfg.Tool)
	}
	if cfg.Email != "" {
		common.Set("email", cfg.Email)
	}
	return &Client{
		HTTP:        &http.Client{Timeout: cfg.HTTPTimeout},
		SearchURL:   cfg.SearchEndpoint,
		SummaryURL:  cfg.SummaryEndpoint,
		SequenceURL: cfg.SequenceEndpoint,
		DB:          cfg.Database,
		RetMax:      cfg.RetMax,
		Common:      common,
		Log:         lg,
	}
}

func (c *Client) params(kv ...string) url.Values {
	v := url.Values{}
	for k, vals := range c.Common {
		v[k] = vals
	}
	v.Set("db", c.DB)
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

// redacted renders the request URL for logs without the api key.
func redacted(endpoint string, v url.Values) string {
	if v.Get("api_key") == "" {
		return endpoint + "?" + v.Encode()
	}
	cp := url.Values{}
	for k, vals := range v {
		cp[k] = vals
	}
	cp.Set("api_key", "REDACTED")
	return endpoint + "?" + cp.Encode()
}

func (c *Client) get(ctx context.Context, endpoint string, v url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: %d from %s", ErrBadStatus, resp.StatusCode, endpoint)
	}
	return body, nil
}

// Search runs esearch for term and returns the id list (at most RetMax ids).
func (c *Client) Search(ctx context.Context, term string) ([]model.RecordID, error) {
	v := c.params("term", term, "retmode", "json", "retmax", strconv.Itoa(c.RetMax))
	c.Log.Infof("NCBI Search URL: %s", redacted(c.SearchURL, v))
	c.Log.Infof("Making request to NCBI API for metadata search")
	body, err := c.get(ctx, c.SearchURL, v)
	if err != nil {
		return nil, fmt.Errorf("esearch: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("esearch: response is not valid json")
	}
	var ids []model.RecordID
	for _, id := range gjson.GetBytes(body, "esearchresult.idlist").Array() {
		if s := id.String(); s != "" {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// Summary runs esummary for a single id and returns result.<id>.
func (c *Client) Summary(ctx context.Context, id model.RecordID) (model.Metadata, error) {
	v := c.params("id", id, "retmode", "json")
	c.Log.Infof("NCBI Summary URL for ID %s: %s", id, redacted(c.SummaryURL, v))
	body, err := c.get(ctx, c.SummaryURL, v)
	if err != nil {
		return model.Metadata{}, fmt.Errorf("esummary %s: %w", id, err)
	}
	if !gjson.ValidBytes(body) {
		return model.Metadata{}, fmt.Errorf("esummary %s: response is not valid json", id)
	}
	var raw string
	gjson.GetBytes(body, "result").ForEach(func(k, val gjson.Result) bool {
		if k.String() == id && val.IsObject() {
			raw = val.Raw
			return false
		}
		return true
	})
	if raw == "" {
		return model.Metadata{}, fmt.Errorf("esummary %s: %w", id, ErrNoSummary)
	}
	md, err := model.ParseMetadata([]byte(raw))
	if err != nil {
		return model.Metadata{}, fmt.Errorf("esummary %s: %w", id, err)
	}
	return md, nil
}

// FASTA runs efetch for a single id and returns the raw text.
func (c *Client) FASTA(ctx context.Context, id model.RecordID) (string, error) {
	v := c.params("id", id, "rettype", "fasta", "retmode", "text")
	c.Log.Infof("NCBI FASTA URL for ID %s: %s", id, redacted(c.SequenceURL, v))
	body, err := c.get(ctx, c.SequenceURL, v)
	if err != nil {
		return "", fmt.Errorf("efetch %s: %w", id, err)
	}
	return string(body), nil
}
