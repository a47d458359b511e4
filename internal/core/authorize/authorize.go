// Package authorize decides whether a writer identity may write a given
// logical path. Ownership markers in the path grant the embedded
// identities directly; paths without markers fall through to a static
// shared-prefix rule table with optional CEL conditions.
package authorize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Each marker captures one identity; a segment may carry several
// markers back to back, so the marker character ends the capture.
var ownershipPattern = regexp.MustCompile(`~([^/~]+)`)

// RoleResolver maps an author address to its clinical roles. It must be
// a pure function of static configuration; the engine calls it without
// holding any lock.
type RoleResolver func(author string) []string

// Engine evaluates write authorization. Construction compiles all rules;
// evaluation is read-only and safe for concurrent use.
type Engine struct {
	rules    []compiledRule
	resolver RoleResolver
}

type compiledRule struct {
	prefix  string
	roleSet map[string]bool
	prg     cel.Program
}

// New compiles the shared-path rules. Rules with a "when" condition are
// compiled once into CEL programs evaluated per call.
func New(cfg Config, resolver RoleResolver) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("author", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("roles", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, err
	}

	e := &Engine{resolver: resolver}
	for _, r := range cfg.SharedRules {
		if r.Prefix == "" {
			return nil, fmt.Errorf("shared rule with empty prefix")
		}
		cr := compiledRule{prefix: r.Prefix, roleSet: make(map[string]bool, len(r.Roles))}
		for _, role := range r.Roles {
			cr.roleSet[role] = true
		}
		if r.When != "" {
			ast, issues := env.Compile(r.When)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("rule %s: invalid condition %q: %w", r.Prefix, r.When, issues.Err())
			}
			prg, err := env.Program(ast)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", r.Prefix, err)
			}
			cr.prg = prg
		}
		e.rules = append(e.rules, cr)
	}
	return e, nil
}

// Authorize reports whether author may write path. Pure: no I/O, no
// mutation, callable concurrently.
func (e *Engine) Authorize(path, author string) bool {
	owners := ownershipPattern.FindAllStringSubmatch(path, -1)
	if len(owners) > 0 {
		// Co-ownership: any one marker matching the author suffices.
		for _, m := range owners {
			if m[1] == author {
				return true
			}
		}
		return false
	}
	return e.sharedAllowed(path, author)
}

func (e *Engine) sharedAllowed(path, author string) bool {
	roles := e.rolesOf(author)
	for _, r := range e.rules {
		if !strings.HasPrefix(path, r.prefix) {
			continue
		}
		if r.prg != nil {
			out, _, err := r.prg.Eval(map[string]interface{}{
				"author": author,
				"path":   path,
				"roles":  roles,
			})
			if err == nil && out == types.True {
				return true
			}
			continue
		}
		if len(r.roleSet) > 0 && e.resolver != nil {
			for _, role := range roles {
				if r.roleSet[role] {
					return true
				}
			}
			continue
		}
		// Without a role resolver a matching prefix grants outright.
		// This mirrors the historical permissive behavior; deployments
		// wanting strict enforcement configure a resolver.
		return true
	}
	return false
}

func (e *Engine) rolesOf(author string) []string {
	if e.resolver == nil {
		return nil
	}
	return e.resolver(author)
}
