package sparql

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAskResult(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    bool
		wantErr bool
	}{
		{"json true", `{"head":{},"boolean":true}`, true, false},
		{"json false", `{"head":{},"boolean":false}`, false, false},
		{"json false with misleading text", `{"head":{"link":["true"]},"boolean":false}`, false, false},
		{"xml true", `<?xml version="1.0"?><sparql xmlns="http://www.w3.org/2005/sparql-results#"><head/><boolean>true</boolean></sparql>`, true, false},
		{"xml false", `<sparql><head></head><boolean>false</boolean></sparql>`, false, false},
		{"select response", `{"head":{"vars":["s"]},"results":{"bindings":[]}}`, false, true},
		{"plain text", `true`, false, true},
		{"empty", ``, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAskResult([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedResult)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSelectResult(t *testing.T) {
	body := `{
		"head": {"vars": ["sub", "super"]},
		"results": {"bindings": [
			{"sub": {"type": "uri", "value": "http://x#A"}, "super": {"type": "uri", "value": "http://x#B"}},
			{"sub": {"type": "literal", "value": "1", "datatype": "http://www.w3.org/2001/XMLSchema#integer"}}
		]}
	}`

	res, err := ParseSelectResult([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, []string{"sub", "super"}, res.Head.Vars)

	rows := res.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "http://x#A", rows[0]["sub"])
	assert.Equal(t, "http://x#B", rows[0]["super"])
	assert.Equal(t, "1", rows[1]["sub"])
	assert.Equal(t, "http://www.w3.org/2001/XMLSchema#integer", res.Results.Bindings[1]["sub"].Datatype)

	_, err = ParseSelectResult([]byte("nope"))
	assert.ErrorIs(t, err, ErrMalformedResult)
}

func TestClient_Update(t *testing.T) {
	var gotPath, gotContentType, gotUpdate string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		values, _ := url.ParseQuery(string(body))
		gotUpdate = values.Get("update")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL + "/")
	err := client.Dataset("abox").Update(context.Background(), "INSERT DATA { ont:a ont:b ont:c . }")
	require.NoError(t, err)

	assert.Equal(t, "/abox/update", gotPath)
	assert.Equal(t, ContentTypeForm, gotContentType)
	assert.Equal(t, "INSERT DATA { ont:a ont:b ont:c . }", gotUpdate)
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusInternalServerError, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("boom"))
			}))
			defer server.Close()

			err := NewClient(server.URL).Update(context.Background(), "abox", "INSERT DATA {}")
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, !tt.transient, IsFatal(err))

			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, "boom", statusErr.Body)
		})
	}
}

func TestClient_UnreachableIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	err := NewClient(addr).Ping(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestClient_AskAndPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/$/ping":
			_, _ = w.Write([]byte("2024-01-01T00:00:00Z"))
		case "/tbox/query":
			assert.Contains(t, r.Header.Get("Accept"), AcceptResultsJSON)
			if r.URL.Query().Get("query") == "ASK {}" {
				w.Header().Set("Content-Type", AcceptResultsJSON)
				_, _ = w.Write([]byte(`{"head":{},"boolean":true}`))
				return
			}
			_, _ = w.Write([]byte(`{"head":{},"boolean":false}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))
	require.NoError(t, client.Probe(ctx))

	tbox := client.Dataset("tbox")
	ok, err := tbox.Ask(ctx, "ASK { ?c a owl:Class }")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, AskProber{Dataset: tbox}.Probe(ctx))
	assert.Error(t, AskProber{Dataset: client.Dataset("missing")}.Probe(ctx))
}

func TestClient_Upload(t *testing.T) {
	var gotBody, gotType, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	turtle := "@prefix owl: <http://www.w3.org/2002/07/owl#> .\n"
	err := NewClient(server.URL).Dataset(server.URL + "/tbox/").Upload(context.Background(), []byte(turtle))
	require.NoError(t, err)
	assert.Equal(t, "/tbox/data", gotPath)
	assert.Equal(t, ContentTypeTurtle, gotType)
	assert.Equal(t, turtle, gotBody)
}

func TestClient_Select(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"head":{"vars":["c"]},"results":{"bindings":[{"c":{"type":"uri","value":"http://x#C"}}]}}`))
	}))
	defer server.Close()

	res, err := NewClient(server.URL).Dataset("abox").Select(context.Background(), "SELECT ?c WHERE { ?c a owl:Class }")
	require.NoError(t, err)
	require.Len(t, res.Rows(), 1)
	assert.Equal(t, "http://x#C", res.Rows()[0]["c"])
}
