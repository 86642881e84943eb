package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	mu         sync.Mutex
	token      string
	next       string
	refreshErr error
	refreshes  int
}

func (f *fakeTokens) Token() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeTokens) Refresh(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	f.token = f.next
	return f.token, nil
}

type recordingServer struct {
	mu      sync.Mutex
	auth    []string
	handler http.HandlerFunc
}

func (r *recordingServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.auth = append(r.auth, req.Header.Get("Authorization"))
	r.mu.Unlock()
	r.handler(w, req)
}

func (r *recordingServer) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.auth...)
}

func newTestClient(t *testing.T, tokens TokenSource, handler http.HandlerFunc) (*Client, *recordingServer, string) {
	t.Helper()
	rec := &recordingServer{handler: handler}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	return New(tokens, zerolog.Nop(), WithHTTPClient(srv.Client())), rec, srv.URL
}

func TestGetSendsBearerToken(t *testing.T) {
	tokens := &fakeTokens{token: "t0"}
	c, rec, url := newTestClient(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	})

	body, err := c.Get(context.Background(), url+"/doc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, []string{"Bearer t0"}, rec.calls())
	assert.Equal(t, 0, tokens.refreshes)
}

func TestUnauthorizedRefreshesAndRetriesOnce(t *testing.T) {
	tokens := &fakeTokens{token: "t0", next: "t1"}
	c, rec, url := newTestClient(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("saved"))
	})

	body, err := c.Put(context.Background(), url+"/doc", map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Equal(t, "saved", string(body))
	assert.Equal(t, []string{"Bearer t0", "Bearer t1"}, rec.calls())
	assert.Equal(t, 1, tokens.refreshes)
}

func TestUnauthorizedTwiceFailsAfterExactlyOneRetry(t *testing.T) {
	tokens := &fakeTokens{token: "t0", next: "t1"}
	c, rec, url := newTestClient(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Get(context.Background(), url)
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Len(t, rec.calls(), 2)
	assert.Equal(t, 1, tokens.refreshes)
}

func TestRefreshFailurePropagates(t *testing.T) {
	boom := errors.New("refresh not supported")
	tokens := &fakeTokens{token: "t0", refreshErr: boom}
	c, rec, url := newTestClient(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Get(context.Background(), url)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, rec.calls(), 1)
}

func TestNonUnauthorizedErrorsDoNotRetry(t *testing.T) {
	tokens := &fakeTokens{token: "t0", next: "t1"}
	c, rec, url := newTestClient(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"503","detail":"Api Error"}`))
	})

	_, err := c.Post(context.Background(), url, map[string]string{"format": "pdf"})
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "Service Unavailable", se.StatusText())
	assert.JSONEq(t, `{"status":"503","detail":"Api Error"}`, string(se.Body))
	assert.Len(t, rec.calls(), 1)
	assert.Equal(t, 0, tokens.refreshes)
}

func TestPostSendsJSON(t *testing.T) {
	tokens := &fakeTokens{token: "Bearer t0"}
	var got map[string]interface{}
	c, rec, url := newTestClient(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{}`))
	})

	_, err := c.Post(context.Background(), url, map[string]string{"layoutId": "layout-1"})
	require.NoError(t, err)
	assert.Equal(t, "layout-1", got["layoutId"])
	// A token that already carries the scheme is not doubled.
	assert.Equal(t, []string{"Bearer t0"}, rec.calls())
}

func TestGetJSON(t *testing.T) {
	tokens := &fakeTokens{token: "t0"}
	c, _, url := newTestClient(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"dataSourceEnabled":true}`))
	})

	var out struct {
		DataSourceEnabled bool `json:"dataSourceEnabled"`
	}
	require.NoError(t, c.GetJSON(context.Background(), url, &out))
	assert.True(t, out.DataSourceEnabled)
}

func TestDownloadDerivesExtension(t *testing.T) {
	tokens := &fakeTokens{token: "t0"}
	c, _, url := newTestClient(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf; charset=binary")
		w.Write([]byte("%PDF-1.7"))
	})

	d, err := c.Download(context.Background(), url+"/y.pdf")
	require.NoError(t, err)
	assert.Equal(t, "pdf", d.Extension)
	assert.Equal(t, []byte("%PDF-1.7"), d.Data)
}

func TestDownloadUnknownContentTypeFails(t *testing.T) {
	tokens := &fakeTokens{token: "t0"}
	c, _, url := newTestClient(t, tokens, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-unknown")
		w.Write([]byte("??"))
	})

	_, err := c.Download(context.Background(), url)
	var ue *UnsupportedContentTypeError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "application/x-unknown", ue.ContentType)
}

func TestExtensionForContentType(t *testing.T) {
	tests := map[string]string{
		"application/pdf":          "pdf",
		"image/png":                "png",
		"IMAGE/JPEG":               "jpg",
		"video/mp4":                "mp4",
		"text/html; charset=utf-8": "html",
	}
	for contentType, want := range tests {
		t.Run(contentType, func(t *testing.T) {
			got, err := ExtensionForContentType(contentType)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}
