package snapshot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomesh/constitution/core"
	"github.com/axiomesh/constitution/repo"
)

func newTestClient(t *testing.T, hub, sequencer string) *Client {
	t.Helper()
	c, err := NewClient(repo.Snapshot{
		HubURL:       hub,
		SequencerURL: sequencer,
		Timeout:      time.Second,
		RetryLimit:   3,
		RetryBackoff: time.Millisecond,
	}, nil)
	require.Nil(t, err)
	return c
}

func TestGetProposal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		require.Nil(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0xabc", req.Variables["id"])
		_, _ = w.Write([]byte(`{"data":{"proposal":{"id":"0xabc","state":"closed","choices":["For","Against"],"scores":[12,3],"scores_total":15,"votes":14}}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "")
	p, err := c.GetProposal(context.Background(), "0xabc")
	require.Nil(t, err)
	assert.Equal(t, "closed", p.State)
	assert.Equal(t, []float64{12, 3}, p.Scores)
	assert.Equal(t, 14, p.Votes)

	outcome := core.CheckProposalOutcome(p.Votes, p.Scores, p.ScoresTotal, core.PolicyProposal)
	assert.True(t, outcome.Passed)
}

func TestGetProposalMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"proposal":null}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, "").GetProposal(context.Background(), "0xabc")
	assert.NotNil(t, err)
}

func TestGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad query"}]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, "").GetVotes(context.Background(), "0xabc")
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "bad query")
}

func TestGetVotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"votes":[{"voter":"0x1","choice":1,"vp":1},{"voter":"0x2","choice":2,"vp":1}]}}`))
	}))
	defer srv.Close()

	votes, err := newTestClient(t, srv.URL, "").GetVotes(context.Background(), "0xabc")
	require.Nil(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, "0x2", votes[1].Voter)
	assert.Equal(t, 2, votes[1].Choice)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"proposal":{"id":"0xabc","state":"active"}}}`))
	}))
	defer srv.Close()

	p, err := newTestClient(t, srv.URL, "").GetProposal(context.Background(), "0xabc")
	require.Nil(t, err)
	assert.Equal(t, "active", p.State)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, "").GetProposal(context.Background(), "0xabc")
	assert.NotNil(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, "").GetProposal(context.Background(), "0xabc")
	assert.NotNil(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSubmitProposal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env core.OracleEnvelope
		require.Nil(t, json.NewDecoder(r.Body).Decode(&env))
		assert.Equal(t, "0xauthor", env.Address)
		assert.JSONEq(t, `{"title":"t"}`, string(env.Data))
		_, _ = w.Write([]byte(`{"id":"0xreceipt"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, "http://unused", srv.URL)
	id, err := c.SubmitProposal(context.Background(), core.OracleEnvelope{
		Address: "0xauthor",
		Sig:     "0xsig",
		Data:    json.RawMessage(`{"title":"t"}`),
	})
	require.Nil(t, err)
	assert.Equal(t, "0xreceipt", id)
}

func TestSubmitWithoutSequencer(t *testing.T) {
	c := newTestClient(t, "http://unused", "")
	_, err := c.SubmitProposal(context.Background(), core.OracleEnvelope{})
	assert.NotNil(t, err)
}

func TestNewClientRequiresHub(t *testing.T) {
	_, err := NewClient(repo.Snapshot{}, nil)
	assert.NotNil(t, err)
}
