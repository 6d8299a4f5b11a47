package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// OracleProposal is the externally tallied view of a governance proposal.
type OracleProposal struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	State       string    `json:"state"`
	Choices     []string  `json:"choices"`
	Start       int64     `json:"start"`
	End         int64     `json:"end"`
	Scores      []float64 `json:"scores"`
	ScoresTotal float64   `json:"scores_total"`
	Votes       int       `json:"votes"`
}

type OracleVote struct {
	Voter   string  `json:"voter"`
	Choice  int     `json:"choice"`
	VP      float64 `json:"vp"`
	Created int64   `json:"created"`
	Reason  string  `json:"reason"`
}

// OracleEnvelope is a wallet-signed payload forwarded to the oracle as is.
type OracleEnvelope struct {
	Address string          `json:"address"`
	Sig     string          `json:"sig"`
	Data    json.RawMessage `json:"data"`
}

// Oracle is the external vote-counting service proposals are mirrored to.
type Oracle interface {
	GetProposal(ctx context.Context, id string) (*OracleProposal, error)

	GetVotes(ctx context.Context, proposalID string) ([]OracleVote, error)

	SubmitProposal(ctx context.Context, envelope OracleEnvelope) (string, error)
}

var _ Oracle = (*MockOracle)(nil)

// MockOracle serves proposals from memory.
type MockOracle struct {
	mu        sync.Mutex
	proposals map[string]*OracleProposal
	votes     map[string][]OracleVote
	submitted []OracleEnvelope

	// Err, when set, is returned by every call.
	Err error
}

func NewMockOracle() *MockOracle {
	return &MockOracle{
		proposals: make(map[string]*OracleProposal),
		votes:     make(map[string][]OracleVote),
	}
}

func (m *MockOracle) SetProposal(p *OracleProposal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals[p.ID] = p
}

func (m *MockOracle) SetVotes(proposalID string, votes []OracleVote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes[proposalID] = votes
}

func (m *MockOracle) Submitted() []OracleEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OracleEnvelope(nil), m.submitted...)
}

func (m *MockOracle) GetProposal(ctx context.Context, id string) (*OracleProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	p, ok := m.proposals[id]
	if !ok {
		return nil, errors.Errorf("oracle proposal %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (m *MockOracle) GetVotes(ctx context.Context, proposalID string) ([]OracleVote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]OracleVote(nil), m.votes[proposalID]...), nil
}

func (m *MockOracle) SubmitProposal(ctx context.Context, envelope OracleEnvelope) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.submitted = append(m.submitted, envelope)
	id := fmt.Sprintf("0xmock%d", len(m.submitted))
	m.proposals[id] = &OracleProposal{ID: id, State: "active"}
	return id, nil
}
