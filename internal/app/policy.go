package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/okian/meshrsa/internal/adapters/storage"
	"github.com/okian/meshrsa/internal/config"
	"github.com/okian/meshrsa/pkg/logger"
)

const maxPromptAttempts = 3

type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// choose asks question until the answer is a choice or a prefix of one.
func (p *prompter) choose(question string, choices ...string) (string, error) {
	for attempt := 0; attempt < maxPromptAttempts; attempt++ {
		fmt.Fprint(p.out, question)
		line, err := p.in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer != "" {
			for _, c := range choices {
				if strings.HasPrefix(c, answer) {
					return c, nil
				}
			}
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoAnswer, err)
		}
	}
	return "", ErrNoAnswer
}

// resolvePolicy splits units into those to process and those whose existing
// output is kept. It runs once, before any job is queued, so workers never
// prompt.
func (s *Service) resolvePolicy(ctx context.Context, units []unit) (todo, skipped []unit, err error) {
	var existing []unit
	for _, u := range units {
		if storage.Exists(s.layout.MeshPath(u.Subject, u.Hemisphere)) {
			existing = append(existing, u)
		}
	}
	if len(existing) == 0 {
		return units, nil, nil
	}

	policy := s.cfg.OverwritePolicy
	if policy == config.PolicyAsk {
		answer, err := s.prompt.choose(
			fmt.Sprintf("%d of %d outputs already exist. Skip all, overwrite all or decide per file? [skip/overwrite/per-file]: ", len(existing), len(units)),
			"skip", "overwrite", "per-file",
		)
		if err != nil {
			return nil, nil, err
		}
		policy = answer
	}

	keep := make(map[string]bool, len(existing))
	switch policy {
	case config.PolicyOverwrite:
		return units, nil, nil
	case config.PolicySkip:
		for _, u := range existing {
			keep[u.key()] = true
		}
	default:
		for _, u := range existing {
			path := s.layout.MeshPath(u.Subject, u.Hemisphere)
			answer, err := s.prompt.choose(fmt.Sprintf("Overwrite %s? [yes/no]: ", path), "yes", "no")
			if err != nil {
				return nil, nil, err
			}
			keep[u.key()] = answer == "no"
		}
	}
	s.logger.Debug(ctx, "overwrite policy resolved", logger.String("policy", policy))

	for _, u := range units {
		if keep[u.key()] {
			skipped = append(skipped, u)
		} else {
			todo = append(todo, u)
		}
	}
	return todo, skipped, nil
}
