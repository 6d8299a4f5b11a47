package core

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

type ConstitutionSource string

const (
	SourceRepository ConstitutionSource = "repository"
	SourceDefault    ConstitutionSource = "default"
)

const (
	defaultConstitutionName        = "Default Constitution"
	defaultConstitutionDescription = "Voluntary network of wallet-authenticated agents organized in trust tiers. " +
		"Members of a tier promote peers to the next tier by supermajority and approve policy by proposal."
)

// ResolveConstitution looks id up in the repository first and falls back to
// the built-in default constitution. An empty id means the configured
// default.
func (e *Engine) ResolveConstitution(ctx context.Context, id string) (*Constitution, ConstitutionSource, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = e.cfg.DefaultConstitution
	}

	c, err := e.repo.FindConstitution(ctx, id)
	if err != nil {
		return nil, "", errors.Wrapf(err, "find constitution %s", id)
	}
	if c != nil {
		return c, SourceRepository, nil
	}
	return &Constitution{
		ID:          id,
		Name:        defaultConstitutionName,
		Description: defaultConstitutionDescription,
	}, SourceDefault, nil
}
