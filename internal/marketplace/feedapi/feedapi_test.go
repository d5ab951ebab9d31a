package feedapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/autobid/internal/apperror"
)

// newFeedServer serves total jobs named J0..J{total-1}, newest first, and
// checks the bearer token on every request.
func newFeedServer(t *testing.T, total int, status func(offset int) int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if status != nil {
			if code := status(offset); code != http.StatusOK {
				w.WriteHeader(code)
				return
			}
		}

		var resp feedResponse
		for i := offset; i < offset+limit && i < total; i++ {
			resp.Jobs = append(resp.Jobs, feedJob{
				ID:         fmt.Sprintf("J%d", i),
				URL:        fmt.Sprintf("https://feed.example/jobs/J%d", i),
				Title:      fmt.Sprintf("Job %d", i),
				BudgetText: "$100 - $250",
			})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(ts.Close)
	return ts, &calls
}

func TestFetchRecentJobs(t *testing.T) {
	ts, calls := newFeedServer(t, 100, nil)
	a := New("houzz", ts.URL+"/v1/jobs",
		WithClient(ts.Client()), WithToken("secret"), WithPageSize(10))

	listings, err := a.FetchRecentJobs(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, listings, 25)
	assert.Equal(t, int32(3), calls.Load(), "page requests")
	for i, l := range listings {
		require.Equal(t, fmt.Sprintf("J%d", i), l.ExternalID, "listing %d out of order", i)
	}
	assert.True(t, listings[0].BudgetMin.Equal(decimal.NewFromInt(100)), "budget min %s", listings[0].BudgetMin)
	assert.True(t, listings[0].BudgetMax.Equal(decimal.NewFromInt(250)), "budget max %s", listings[0].BudgetMax)
}

func TestFetchRecentJobs_FewerThanLimit(t *testing.T) {
	ts, _ := newFeedServer(t, 4, nil)
	a := New("houzz", ts.URL, WithClient(ts.Client()), WithToken("secret"))

	listings, err := a.FetchRecentJobs(context.Background(), 20)
	require.NoError(t, err)
	assert.Len(t, listings, 4)
}

func TestFetchRecentJobs_Unauthorized(t *testing.T) {
	ts, _ := newFeedServer(t, 10, nil)
	a := New("houzz", ts.URL, WithClient(ts.Client()), WithToken("expired"))

	listings, err := a.FetchRecentJobs(context.Background(), 10)
	require.ErrorIs(t, err, apperror.ErrAuthenticationRequired)
	assert.Nil(t, listings)
}

func TestFetchRecentJobs_PageFailureIsLogged(t *testing.T) {
	ts, _ := newFeedServer(t, 30, func(offset int) int {
		if offset == 10 {
			return http.StatusBadGateway
		}
		return http.StatusOK
	})
	a := New("houzz", ts.URL, WithClient(ts.Client()), WithToken("secret"), WithPageSize(10))

	listings, err := a.FetchRecentJobs(context.Background(), 30)
	require.NoError(t, err, "transient failures must not surface")
	assert.Len(t, listings, 20, "listings from the healthy pages")
}

func TestFetchRecentJobs_ServerDown(t *testing.T) {
	ts, _ := newFeedServer(t, 10, nil)
	ts.Close()
	a := New("houzz", ts.URL, WithToken("secret"))

	listings, err := a.FetchRecentJobs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, listings)
}

func TestFetchRecentJobs_ZeroLimit(t *testing.T) {
	a := New("houzz", "http://unused.invalid")
	listings, err := a.FetchRecentJobs(context.Background(), 0)
	require.NoError(t, err)
	assert.Nil(t, listings)
}
