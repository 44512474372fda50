package access

import (
	"context"
	"strings"
)

// Directory is the identity-provider user directory, consulted only as a
// lookup. *store.Store satisfies it.
type Directory interface {
	UserEmail(ctx context.Context, userID string) (string, error)
	IsAdminUser(ctx context.Context, userID string) (bool, error)
}

// AdminPredicate decides whether a user is privileged. Predicates are
// evaluated in order; the first positive answer wins.
type AdminPredicate interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

type AdminPolicy struct {
	predicates []AdminPredicate
}

// NewAdminPolicy builds the canonical ordering: static allow-list first,
// then the directory admin flag.
func NewAdminPolicy(allowedEmails []string, dir Directory) *AdminPolicy {
	return &AdminPolicy{predicates: []AdminPredicate{
		&allowListPredicate{emails: normalizeEmails(allowedEmails), dir: dir},
		&directoryFlagPredicate{dir: dir},
	}}
}

func NewAdminPolicyFromPredicates(predicates ...AdminPredicate) *AdminPolicy {
	return &AdminPolicy{predicates: predicates}
}

func (p *AdminPolicy) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var firstErr error
	for _, predicate := range p.predicates {
		ok, err := predicate.IsAdmin(ctx, userID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, firstErr
}

type allowListPredicate struct {
	emails map[string]struct{}
	dir    Directory
}

func (p *allowListPredicate) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if len(p.emails) == 0 {
		return false, nil
	}
	email, err := p.dir.UserEmail(ctx, userID)
	if err != nil {
		return false, err
	}
	if email == "" {
		return false, nil
	}
	_, ok := p.emails[strings.ToLower(strings.TrimSpace(email))]
	return ok, nil
}

type directoryFlagPredicate struct {
	dir Directory
}

func (p *directoryFlagPredicate) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return p.dir.IsAdminUser(ctx, userID)
}

func normalizeEmails(emails []string) map[string]struct{} {
	out := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" {
			continue
		}
		out[email] = struct{}{}
	}
	return out
}
