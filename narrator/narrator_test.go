package narrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onionlab/relaysim/testutil"
)

func testSummary() *Summary {
	epoch := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &Summary{
		RecentEvents: testutil.GenerateCircuitEvents("C1", epoch, 100*time.Millisecond),
		CircuitCount: 1,
	}
}

func TestNoopReturnsEmptyText(t *testing.T) {
	text, err := Noop{}.Narrate(context.Background(), testSummary())
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestHTTPNarratorPostsSummary(t *testing.T) {
	var received Summary
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Write([]byte("the guard and exit timings line up: circuit C1 is deanonymized"))
	}))
	defer srv.Close()

	text, err := NewHTTPNarrator(srv.URL).Narrate(context.Background(), testSummary())
	require.NoError(t, err)
	require.Contains(t, text, "C1")
	require.Len(t, received.RecentEvents, 3)
}

func TestHTTPNarratorRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPNarrator(srv.URL).Narrate(context.Background(), testSummary())
	require.Error(t, err)
}

func TestHTTPNarratorTruncatesOversizedReplies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		big := make([]byte, maxNarrationBytes*2)
		for i := range big {
			big[i] = 'a'
		}
		w.Write(big)
	}))
	defer srv.Close()

	text, err := NewHTTPNarrator(srv.URL).Narrate(context.Background(), testSummary())
	require.NoError(t, err)
	require.Len(t, text, maxNarrationBytes)
}
