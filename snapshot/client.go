// Package snapshot talks to a Snapshot hub: proposals and votes are read
// through its GraphQL endpoint, signed proposals are sent to the sequencer.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/constitution/core"
	"github.com/axiomesh/constitution/repo"
)

const (
	proposalQuery = `query Proposal($id: String!) {
  proposal(id: $id) {
    id
    title
    state
    choices
    start
    end
    scores
    scores_total
    votes
  }
}`

	votesQuery = `query Votes($proposal: String!, $first: Int!) {
  votes(first: $first, where: {proposal: $proposal}, orderBy: "created", orderDirection: desc) {
    voter
    choice
    vp
    created
    reason
  }
}`

	maxVotes = 1000

	// response bodies beyond this are not read
	maxBodySize = 4 << 20
)

var _ core.Oracle = (*Client)(nil)

// Client is a core.Oracle backed by a Snapshot hub.
type Client struct {
	hubURL       string
	sequencerURL string
	http         *http.Client
	retryLimit   uint
	retryBackoff time.Duration
	logger       logrus.FieldLogger
}

func NewClient(cfg repo.Snapshot, logger logrus.FieldLogger) (*Client, error) {
	if cfg.HubURL == "" {
		return nil, errors.New("snapshot hub_url is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	limit := cfg.RetryLimit
	if limit == 0 {
		limit = 1
	}
	return &Client{
		hubURL:       cfg.HubURL,
		sequencerURL: cfg.SequencerURL,
		http:         &http.Client{Timeout: cfg.Timeout},
		retryLimit:   limit,
		retryBackoff: cfg.RetryBackoff,
		logger:       logger.WithField("component", "snapshot"),
	}, nil
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// statusError is an unexpected HTTP status; 5xx and 429 are retried.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code >= http.StatusInternalServerError || e.code == http.StatusTooManyRequests
}

func (c *Client) GetProposal(ctx context.Context, id string) (*core.OracleProposal, error) {
	var data struct {
		Proposal *core.OracleProposal `json:"proposal"`
	}
	if err := c.query(ctx, proposalQuery, map[string]any{"id": id}, &data); err != nil {
		return nil, errors.Wrapf(err, "query proposal %s", id)
	}
	if data.Proposal == nil {
		return nil, errors.Errorf("proposal %s not found on snapshot", id)
	}
	return data.Proposal, nil
}

func (c *Client) GetVotes(ctx context.Context, proposalID string) ([]core.OracleVote, error) {
	var data struct {
		Votes []core.OracleVote `json:"votes"`
	}
	vars := map[string]any{"proposal": proposalID, "first": maxVotes}
	if err := c.query(ctx, votesQuery, vars, &data); err != nil {
		return nil, errors.Wrapf(err, "query votes of %s", proposalID)
	}
	if data.Votes == nil {
		return []core.OracleVote{}, nil
	}
	return data.Votes, nil
}

// SubmitProposal forwards a signed envelope to the sequencer and returns the
// receipt id, which is also the proposal id on the hub.
func (c *Client) SubmitProposal(ctx context.Context, envelope core.OracleEnvelope) (string, error) {
	if c.sequencerURL == "" {
		return "", errors.New("snapshot sequencer_url is not configured")
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return "", errors.Wrap(err, "marshal envelope")
	}

	var receipt struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, c.sequencerURL, body, &receipt); err != nil {
		return "", errors.Wrap(err, "submit proposal")
	}
	if receipt.ID == "" {
		return "", errors.New("sequencer returned an empty receipt id")
	}
	c.logger.WithField("id", receipt.ID).Info("proposal submitted to snapshot")
	return receipt.ID, nil
}

func (c *Client) query(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return errors.Wrap(err, "marshal graphql request")
	}

	var resp graphqlResponse
	if err := c.post(ctx, c.hubURL, body, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return errors.Errorf("graphql: %s", resp.Errors[0].Message)
	}
	if len(resp.Data) == 0 {
		return errors.New("graphql response has no data")
	}
	return json.Unmarshal(resp.Data, out)
}

// post sends body and decodes the JSON reply into out, retrying transport
// failures and retryable statuses.
func (c *Client) post(ctx context.Context, url string, body []byte, out any) error {
	var permanent error
	action := func(attempt uint) error {
		if err := ctx.Err(); err != nil {
			permanent = err
			return nil
		}
		err := c.do(ctx, url, body, out)
		if err == nil {
			return nil
		}
		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			permanent = err
			return nil
		}
		c.logger.WithFields(logrus.Fields{
			"url":     url,
			"attempt": attempt,
			"err":     err,
		}).Warn("snapshot request failed")
		return err
	}

	if err := retry.Retry(action, strategy.Limit(c.retryLimit), strategy.Backoff(backoff.Fibonacci(c.retryBackoff))); err != nil {
		return err
	}
	return permanent
}

func (c *Client) do(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode, body: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
