package elastic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ncbi-virus-etl/internal/config"
	"github.com/ncbi-virus-etl/internal/logging"
	"github.com/ncbi-virus-etl/internal/model"
)

// fakeES implements the index-exists, index-create and bulk endpoints
// and keeps documents by id, so a second index action replaces the first.
type fakeES struct {
	mu       sync.Mutex
	exists   bool
	creates  int
	bulks    int
	docs     map[string]Document
	rejectID string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/ncbi_records":
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/ncbi_records":
		f.exists = true
		f.creates++
		io.WriteString(w, `{"acknowledged":true,"index":"ncbi_records"}`)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/_bulk"):
		f.bulks++
		f.bulk(w, r)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeES) bulk(w http.ResponseWriter, r *http.Request) {
	sc := bufio.NewScanner(r.Body)
	sc.Buffer(make([]byte, 1<<20), 1<<24)
	var items []string
	failed := false
	for sc.Scan() {
		var action struct {
			Index struct {
				ID string `json:"_id"`
			} `json:"index"`
		}
		if err := json.Unmarshal(sc.Bytes(), &action); err != nil || !sc.Scan() {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		id := action.Index.ID
		if id == f.rejectID {
			failed = true
			items = append(items, `{"index":{"_id":"`+id+`","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad doc"}}}`)
			continue
		}
		var doc Document
		if err := json.Unmarshal(sc.Bytes(), &doc); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.docs[id] = doc
		items = append(items, `{"index":{"_id":"`+id+`","status":201}}`)
	}
	errs := "false"
	if failed {
		errs = "true"
	}
	io.WriteString(w, `{"took":3,"errors":`+errs+`,"items":[`+strings.Join(items, ",")+`]}`)
}

func newSink(t *testing.T, f *fakeES) (*Sink, *bytes.Buffer) {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	cfg := config.Default()
	cfg.IndexEndpoint = srv.URL
	var buf bytes.Buffer
	s, err := New(cfg, logging.New(&buf, ""))
	require.NoError(t, err)
	return s, &buf
}

func TestCreatesIndexAndBulkLoads(t *testing.T) {
	f := &fakeES{docs: map[string]Document{}}
	s, logs := newSink(t, f)

	err := s.Load(context.Background(),
		[]model.Metadata{model.MustMetadata(`{"uid":"B","title":"b"}`), model.MustMetadata(`{"uid":"A","title":"a"}`)},
		[]model.Sequence{{UID: "B", FASTA: ">B\nAC\n"}, {UID: "A", FASTA: ""}})
	require.NoError(t, err)

	require.Equal(t, 1, f.creates)
	require.Equal(t, 1, f.bulks)
	require.Len(t, f.docs, 2)
	require.Equal(t, ">B\nAC\n", f.docs["B"].FASTA)
	require.JSONEq(t, `{"uid":"A","title":"a"}`, string(f.docs["A"].Metadata))
	require.Contains(t, logs.String(), "Created index ncbi_records in Elasticsearch")
	require.Equal(t, 1, strings.Count(logs.String(), "Successfully loaded"))

	// index exists now: no second create, and the document is replaced
	require.NoError(t, s.Load(context.Background(), []model.Metadata{model.MustMetadata(`{"uid":"A","title":"a2"}`)}, nil))
	require.Equal(t, 1, f.creates)
	require.JSONEq(t, `{"uid":"A","title":"a2"}`, string(f.docs["A"].Metadata))
}

func TestPartialBulkFailureIsAggregated(t *testing.T) {
	f := &fakeES{exists: true, docs: map[string]Document{}, rejectID: "B"}
	s, logs := newSink(t, f)

	err := s.Load(context.Background(),
		[]model.Metadata{model.MustMetadata(`{"uid":"A"}`), model.MustMetadata(`{"uid":"B"}`), model.MustMetadata(`{"uid":"C"}`)}, nil)
	require.True(t, errors.Is(err, ErrBulkItems))
	require.Contains(t, err.Error(), "1 of 3")
	require.Contains(t, err.Error(), "mapper_parsing_exception")
	require.Len(t, f.docs, 2)
	require.NotContains(t, logs.String(), "Successfully loaded")
}

func TestEmptyRecordsSkipBulk(t *testing.T) {
	f := &fakeES{docs: map[string]Document{}}
	s, _ := newSink(t, f)
	require.NoError(t, s.Load(context.Background(), nil, nil))
	require.Equal(t, 1, f.creates)
	require.Zero(t, f.bulks)
}

func TestBulkBody(t *testing.T) {
	b, err := BulkBody("idx", []model.Row{{UID: "7", Metadata: []byte(`{"uid":"7"}`), FASTA: "AC"}})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	require.JSONEq(t, `{"index":{"_index":"idx","_id":"7"}}`, lines[0])
	require.JSONEq(t, `{"metadata":{"uid":"7"},"fasta":"AC"}`, lines[1])
}

func TestBulkBodyKeepsMetadataBytes(t *testing.T) {
	const raw = `{"uid":"A","gi":12345678901234567891,"title":"a<b & c>d"}`
	b, err := BulkBody("idx", []model.Row{{UID: "A", Metadata: model.MustMetadata(raw).Raw, FASTA: ">A<1>"}})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, `{"metadata":`+raw+`,"fasta":">A<1>"}`, lines[1])
}
