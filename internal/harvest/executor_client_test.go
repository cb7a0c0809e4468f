package harvest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/aristath/harvester/internal/clients/alphavantage"
	"github.com/aristath/harvester/internal/credentials"
	"github.com/aristath/harvester/internal/domain"
	testingpkg "github.com/aristath/harvester/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_InvalidQueryEndsAsNoData(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Error Message":"Invalid inputs. Please refer to the API documentation."}`))
	}))
	t.Cleanup(srv.Close)

	rotator := &testingpkg.MockRotator{}
	minter := testingpkg.NewMockMinter("k3")
	pool, err := credentials.NewPool(testingpkg.Credentials("k1", "k2"), rotator, minter, zerolog.Nop())
	require.NoError(t, err)

	client := alphavantage.NewClient(zerolog.Nop(), alphavantage.WithBaseURL(srv.URL))
	store := testingpkg.NewMockStore()
	exec := NewExecutor(client, store, pool, zerolog.Nop())

	task := testingpkg.MonthlyTask(domain.KindNewsSentiment, "NOSUCH", 2016, 1)
	res, err := exec.Execute(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, ResolutionNoData, res.Resolution)
	assert.Equal(t, 1, res.NetworkCalls)
	assert.Equal(t, int32(1), requests.Load())
	assert.Equal(t, 0, minter.Calls())
	assert.Equal(t, 0, rotator.Calls())
	assert.Equal(t, 2, pool.Size())
	assert.False(t, store.Has(task))
}
