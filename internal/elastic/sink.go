package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/tidwall/gjson"

	"github.com/ncbi-virus-etl/internal/config"
	"github.com/ncbi-virus-etl/internal/logging"
	"github.com/ncbi-virus-etl/internal/model"
)

// ErrBulkItems marks a bulk request in which some items were rejected.
var ErrBulkItems = errors.New("bulk items failed")

// Document is the indexed body for one record.
type Document struct {
	Metadata json.RawMessage `json:"metadata"`
	FASTA    string          `json:"fasta"`
}

// Sink indexes one document per record, keyed by uid, with a single bulk request.
type Sink struct {
	Index  string
	client *elasticsearch.Client
	Log    *logging.Logger
}

// New builds a client for cfg.IndexEndpoint; no request is made until Load.
func New(cfg config.Config, lg *logging.Logger) (*Sink, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.IndexEndpoint},
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return &Sink{Index: cfg.IndexName, client: es, Log: lg}, nil
}

func (s *Sink) Name() string { return "elasticsearch" }

// EnsureIndex creates the index unless it already exists.
func (s *Sink) EnsureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.Index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("index exists: %w", err)
	}
	drain(res)
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("index exists: %s", res.Status())
	}

	res, err = s.client.Indices.Create(s.Index, s.client.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("create index: %s", res.String())
	}
	s.Log.Infof("Created index %s in Elasticsearch", s.Index)
	return nil
}

// BulkBody renders the NDJSON body: an index action then the document, per row.
// Metadata bytes are embedded as received, without HTML escaping.
func BulkBody(index string, rows []model.Row) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range rows {
		action := map[string]map[string]string{"index": {"_index": index, "_id": r.UID}}
		if err := enc.Encode(action); err != nil {
			return nil, err
		}
		if err := enc.Encode(Document{Metadata: r.Metadata, FASTA: r.FASTA}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Load ensures the index and writes all records in one bulk request.
// Item failures are reported once, in aggregate.
func (s *Sink) Load(ctx context.Context, metadata []model.Metadata, sequences []model.Sequence) error {
	s.Log.Infof("Loading data to Elasticsearch")
	if err := s.EnsureIndex(ctx); err != nil {
		return err
	}
	rows, err := model.Join(metadata, sequences)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	body, err := BulkBody(s.Index, rows)
	if err != nil {
		return fmt.Errorf("encode bulk: %w", err)
	}

	s.Log.Infof("Indexing data to Elasticsearch")
	res, err := s.client.Bulk(bytes.NewReader(body), s.client.Bulk.WithContext(ctx), s.client.Bulk.WithIndex(s.Index))
	if err != nil {
		return fmt.Errorf("bulk: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk: %s", res.String())
	}
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("bulk: read response: %w", err)
	}
	if err := bulkErrors(b); err != nil {
		return err
	}
	s.Log.Infof("Successfully loaded %d documents to Elasticsearch", len(rows))
	return nil
}

func bulkErrors(b []byte) error {
	if !gjson.GetBytes(b, "errors").Bool() {
		return nil
	}
	items := gjson.GetBytes(b, "items").Array()
	failed := 0
	var first string
	for _, it := range items {
		e := it.Get("index.error")
		if !e.Exists() {
			continue
		}
		failed++
		if first == "" {
			first = e.Get("type").String() + ": " + e.Get("reason").String()
		}
	}
	return fmt.Errorf("%w: %d of %d (first: %s)", ErrBulkItems, failed, len(items), first)
}

func drain(res *esapi.Response) {
	if res != nil && res.Body != nil {
		_, _ = io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}
}
