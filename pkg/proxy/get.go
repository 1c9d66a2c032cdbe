package proxy

import (
	"context"
	"errors"
	"net/http"

	"github.com/Sternrassler/web-cache/pkg/cache"
	"github.com/Sternrassler/web-cache/pkg/message"
	"github.com/rs/zerolog"
)

// handleGet serves a GET from the cache or the origin.
//
// Two requests revalidating the same stale key race; both write and the
// last writer wins.
func (s *Server) handleGet(ctx context.Context, req *message.Request, logger zerolog.Logger) (reply, error) {
	target, err := resolveTarget(req)
	if err != nil {
		return reply{}, err
	}

	key := cache.DeriveKey([]byte(req.Target))
	logger = logger.With().Str("key", key.String()).Logger()

	entry, err := s.cache.Lookup(ctx, key)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return reply{}, err
	}

	if entry != nil && entry.IsFresh(s.now()) {
		logger.Debug().Msg("Fresh cache hit")
		return reply{status: http.StatusOK, body: entry.Body, result: resultHit}, nil
	}

	var lastModified string
	if entry != nil {
		lastModified = entry.LastModified
		logger.Debug().Str("last_modified", lastModified).Msg("Stale entry, revalidating")
	} else {
		logger.Debug().Msg("Cache miss")
	}

	resp, err := s.origin.Fetch(ctx, target, req.Target, lastModified)
	if err != nil {
		return reply{}, err
	}

	now := s.now()
	d := Decide(resp, entry, now)

	// The origin answered; a failing store write is logged and the client
	// still gets the response.
	switch d.Mutation {
	case MutationStore:
		if err := s.cache.Save(ctx, key, d.Entry); err != nil {
			logger.Warn().Err(err).Msg("Failed to cache response")
		}
	case MutationTouch:
		if err := s.cache.Touch(ctx, key, now); err != nil {
			logger.Warn().Err(err).Msg("Failed to refresh saved date")
		}
	}

	rep := reply{status: d.StatusCode, body: d.Body, result: result(entry != nil, d)}
	if entry != nil {
		revalidationsTotal.WithLabelValues(revalidationOutcome(d)).Inc()
	}

	logger.Debug().
		Int("origin_status", resp.StatusCode).
		Str("mutation", d.Mutation.String()).
		Msg("Origin response applied")

	return rep, nil
}

func result(revalidating bool, d Decision) string {
	switch {
	case d.Mutation == MutationTouch:
		return resultRevalidated
	case d.Mutation == MutationStore && revalidating:
		return resultRefreshed
	case d.Mutation == MutationStore:
		return resultMiss
	default:
		return resultPassthrough
	}
}

func revalidationOutcome(d Decision) string {
	switch d.Mutation {
	case MutationTouch:
		return "not_modified"
	case MutationStore:
		return "modified"
	default:
		return "other"
	}
}
