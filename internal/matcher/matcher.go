// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

// Package matcher connects what a media server is playing to a danmaku
// source. It powers two entry points: webhook dispatch, which turns a
// new-library-item notification into an import task, and filename
// matching, which resolves a release-style file name against episodes
// already in the library.
package matcher

import (
	"context"
	"errors"
	"sort"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/kotodama-lab/danmuhive/internal/database"
	"github.com/kotodama-lab/danmuhive/internal/importer"
	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/metrics"
	"github.com/kotodama-lab/danmuhive/internal/models"
)

// ErrNoMatch is returned by Dispatch when no provider candidate
// survives filtering.
var ErrNoMatch = errors.New("matcher: no candidate matched")

// Store is the persistence the matcher needs. Implemented by
// database.DB.
type Store interface {
	FindWorkByTitleSeason(ctx context.Context, title string, season int) (*models.Work, error)
	GetFavoritedSource(ctx context.Context, workID int64) (*models.Source, error)
	SearchWorksByTitle(ctx context.Context, query string) ([]models.Work, error)
	GetPlayableEpisode(ctx context.Context, workID int64, index int) (*models.Episode, error)
}

// Search fans a keyword out to the enabled providers. Implemented by
// provider.Registry.
type Search interface {
	SearchAll(ctx context.Context, keyword string, hint *models.EpisodeHint) []models.ProviderSearchInfo
}

// Imports queues import tasks. Implemented by importer.Importer.
type Imports interface {
	QueueImport(ctx context.Context, req importer.Request) (string, error)
}

// Matcher resolves webhook items and file names to danmaku sources.
type Matcher struct {
	store   Store
	search  Search
	imports Imports
}

// New creates a matcher.
func New(store Store, search Search, imports Imports) *Matcher {
	return &Matcher{store: store, search: search, imports: imports}
}

// Dispatch handles one normalized webhook item and returns the queued
// task ID. A work already in the library with a favorited source wins
// without any provider traffic; otherwise the enabled providers are
// searched and the best candidate is imported. External IDs from the
// payload ride along so the metadata jobs can pick the work up later.
func (m *Matcher) Dispatch(ctx context.Context, item models.WebhookItem) (string, error) {
	if item.Season < 1 {
		item.Season = 1
	}
	if item.Episode < 1 {
		item.Episode = 1
	}
	if !item.Kind.Valid() {
		item.Kind = models.MediaKindTVSeries
	}

	if work, err := m.store.FindWorkByTitleSeason(ctx, item.Title, item.Season); err == nil {
		fav, ferr := m.store.GetFavoritedSource(ctx, work.ID)
		if ferr == nil {
			logging.Info().
				Str("title", item.Title).
				Str("provider", fav.Provider).
				Msg("Dispatching to favorited source")
			metrics.RecordMatch("favorited")
			return m.imports.QueueImport(ctx, importer.Request{
				Provider:      fav.Provider,
				MediaID:       fav.MediaID,
				Title:         work.Title,
				Kind:          work.Kind,
				Season:        work.Season,
				TargetEpisode: item.Episode,
				IDs:           externalIDs(item),
			})
		}
		if !errors.Is(ferr, database.ErrNotFound) {
			return "", ferr
		}
	} else if !errors.Is(err, database.ErrNotFound) {
		return "", err
	}

	hint := &models.EpisodeHint{Season: item.Season, Episode: item.Episode}
	results := m.search.SearchAll(ctx, item.Title, hint)
	candidates := filterCandidates(results, item)
	if len(candidates) == 0 {
		metrics.RecordMatch("none")
		return "", ErrNoMatch
	}

	best := pickBest(item.Title, candidates)
	logging.Info().
		Str("title", item.Title).
		Str("provider", best.Provider).
		Str("media_id", best.MediaID).
		Int("candidates", len(candidates)).
		Msg("Dispatching to searched source")
	metrics.RecordMatch("searched")
	return m.imports.QueueImport(ctx, importer.Request{
		Provider:      best.Provider,
		MediaID:       best.MediaID,
		Title:         best.Title,
		Kind:          best.Kind,
		Season:        best.Season,
		TargetEpisode: item.Episode,
		PosterURL:     best.PosterURL,
		IDs:           externalIDs(item),
	})
}

// filterCandidates keeps results of the requested kind and season. A
// candidate whose title carries a theatrical phrase is treated as the
// movie it is, whatever the provider labeled it.
func filterCandidates(results []models.ProviderSearchInfo, item models.WebhookItem) []models.ProviderSearchInfo {
	out := make([]models.ProviderSearchInfo, 0, len(results))
	for _, r := range results {
		if moviePhraseRe.MatchString(r.Title) {
			r.Kind = models.MediaKindMovie
			r.Season = 1
		}
		if r.Kind != item.Kind {
			continue
		}
		if item.Kind == models.MediaKindTVSeries && r.Season != item.Season {
			continue
		}
		out = append(out, r)
	}
	return out
}

// pickBest ranks candidates by token-set similarity to the requested
// title. SearchAll returns providers in display order, so the stable
// sort keeps that order as the tie-break.
func pickBest(title string, candidates []models.ProviderSearchInfo) models.ProviderSearchInfo {
	type scored struct {
		info  models.ProviderSearchInfo
		score int
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		// forceAscii off: the corpus is largely CJK and must not be
		// stripped before comparison.
		ranked[i] = scored{info: c, score: fuzzy.TokenSetRatio(title, c.Title, false)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return ranked[0].info
}

func externalIDs(item models.WebhookItem) importer.ExternalIDs {
	return importer.ExternalIDs{
		TmdbID:    item.TmdbID,
		ImdbID:    item.ImdbID,
		TvdbID:    item.TvdbID,
		DoubanID:  item.DoubanID,
		BangumiID: item.BangumiID,
	}
}

// FileMatch couples a library work with the episode a file name
// resolved to.
type FileMatch struct {
	Work    models.Work
	Episode models.Episode
}

// MatchFile parses a release-style file name and resolves it against
// the library. The returned slice is empty when nothing matches; a
// single element means an unambiguous match.
func (m *Matcher) MatchFile(ctx context.Context, fileName string) (ParsedFile, []FileMatch, error) {
	parsed, ok := ParseFileName(fileName)
	if !ok {
		return parsed, nil, nil
	}

	works, err := m.store.SearchWorksByTitle(ctx, parsed.Title)
	if err != nil {
		return parsed, nil, err
	}
	var matches []FileMatch
	for _, w := range works {
		if parsed.Kind == models.MediaKindTVSeries && w.Season != parsed.Season {
			continue
		}
		ep, err := m.store.GetPlayableEpisode(ctx, w.ID, parsed.Episode)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				continue
			}
			return parsed, nil, err
		}
		matches = append(matches, FileMatch{Work: w, Episode: *ep})
	}
	return parsed, matches, nil
}
