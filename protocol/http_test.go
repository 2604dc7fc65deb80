package protocol

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-ledger-sync/errors"
)

type staticTokens struct{ token string }

func (s staticTokens) AccessToken(ctx context.Context) (string, error) {
	return s.token, nil
}

func TestHTTPClient_Pull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/sync/pull", r.URL.Path)
		require.Equal(t, "1700000000000", r.URL.Query().Get("last_pulled_at"))
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		resp := PullResponse{
			Changes: Changes{
				"transactions": TableChanges{
					Created: []RawRecord{{"id": "txn-1", "updated_at": float64(1700000005000)}},
					Deleted: []string{"txn-9"},
				},
			},
			Timestamp: 1700000010000,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, WithTokenSource(staticTokens{token: "tok-1"}))

	pr, err := client.Pull(context.Background(), 1700000000000)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000010000), pr.Timestamp)
	require.Len(t, pr.Changes["transactions"].Created, 1)
	assert.Equal(t, "txn-1", pr.Changes["transactions"].Created[0].ID())
	assert.Equal(t, int64(1700000005000), pr.Changes["transactions"].Created[0].UpdatedAt())
	assert.Equal(t, []string{"txn-9"}, pr.Changes["transactions"].Deleted)
}

func TestHTTPClient_Pull_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	_, err := client.Pull(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, syncErrors.IsRetryable(err), "server errors must be retryable")
}

func TestHTTPClient_Push(t *testing.T) {
	var received pushRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/sync/push", r.URL.Path)

		var body io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			require.NoError(t, err)
			defer gz.Close()
			body = gz
		}
		require.NoError(t, json.NewDecoder(body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, WithLimits(Limits{
		MaxBodyBytes: 1 << 20,
		EnableGzip:   true,
		GzipMinBytes: 1, // force compression
	}))

	changes := Changes{
		"accounts": TableChanges{
			Updated: []RawRecord{{"id": "acc-1", "updated_at": float64(42)}},
		},
	}
	require.NoError(t, client.Push(context.Background(), changes, 1700000000000))
	assert.Equal(t, int64(1700000000000), received.LastPulledAt)
	require.Len(t, received.Changes["accounts"].Updated, 1)
	assert.Equal(t, "acc-1", received.Changes["accounts"].Updated[0].ID())
}

func TestHTTPClient_Push_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	err := client.Push(context.Background(), Changes{}, 0)
	require.Error(t, err)
	assert.True(t, syncErrors.IsPushConflict(err))
	// A conflict is retryable by the next cycle, not fatal.
	assert.True(t, syncErrors.IsRetryable(err))
}

func TestChanges_Helpers(t *testing.T) {
	empty := Changes{"accounts": TableChanges{}}
	assert.True(t, empty.Empty())
	assert.Equal(t, 0, empty.Count())

	c := Changes{
		"accounts": TableChanges{
			Created: []RawRecord{{"id": "a"}},
			Deleted: []string{"b", "c"},
		},
	}
	assert.False(t, c.Empty())
	assert.Equal(t, 3, c.Count())
}

func TestPassthroughCodec(t *testing.T) {
	rec := RawRecord{"id": "x", "name": "coffee"}
	var codec Codec = PassthroughCodec{}

	out, err := codec.Encode("transactions", rec)
	require.NoError(t, err)
	assert.Equal(t, rec, out)

	out, err = codec.Decode("transactions", rec)
	require.NoError(t, err)
	assert.Equal(t, rec, out)
}
