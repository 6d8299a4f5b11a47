package repo

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	root := t.TempDir()

	r, err := Load(root)
	require.Nil(t, err)
	assert.True(t, Exist(filepath.Join(root, cfgFileName)))
	assert.Equal(t, root, r.Config.RepoRoot)
	assert.Equal(t, DefaultGovernance(), r.Config.Governance)
	assert.Equal(t, filepath.Join(root, "data"), r.DatabaseDir())
	assert.Equal(t, filepath.Join(root, "sweeper"), r.SweeperStateDir())

	// second load reads the file back
	r2, err := Load(root)
	require.Nil(t, err)
	assert.Equal(t, r.Config.Governance, r2.Config.Governance)
	assert.Equal(t, 5*time.Minute, r2.Config.Sweeper.Interval)
}

func TestLoadEnvOverride(t *testing.T) {
	root := t.TempDir()
	_, err := Load(root)
	require.Nil(t, err)

	t.Setenv("CONSTITUTION_GOVERNANCE_PROMOTION_VOTING_DAYS", "3")
	t.Setenv("CONSTITUTION_GOVERNANCE_DEFAULT_QUORUM_PERCENT", "0.4")

	r, err := Load(root)
	require.Nil(t, err)
	assert.Equal(t, 3, r.Config.Governance.PromotionVotingDays)
	assert.Equal(t, 0.4, r.Config.Governance.DefaultQuorumPercent)
}

func TestGovernanceValidate(t *testing.T) {
	assert.Nil(t, DefaultGovernance().Validate())

	g := DefaultGovernance()
	g.DefaultQuorumPercent = 0
	assert.NotNil(t, g.Validate())

	g = DefaultGovernance()
	g.DefaultPromotionThreshold = 1.2
	assert.NotNil(t, g.Validate())

	g = DefaultGovernance()
	g.PromotionVotingDays = 0
	assert.NotNil(t, g.Validate())

	g = DefaultGovernance()
	g.DefaultConstitution = ""
	assert.NotNil(t, g.Validate())
}

func TestMarshalConfig(t *testing.T) {
	raw, err := MarshalConfig(DefaultConfig("/tmp/x"))
	require.Nil(t, err)
	assert.Contains(t, raw, "promotion_voting_days = 7")
	assert.Contains(t, raw, "[governance]")
	assert.NotContains(t, raw, "/tmp/x")
}
