// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

// Package metadata enriches library works from TMDB. Its auto-map job
// selects an episode group for every TMDB-bound series, mirrors the
// group's custom numbering into mapping rows, and fills the work's
// alternate title slots from TMDB's regional titles. All writes use
// fill-if-absent or replace-per-group semantics, so re-running the job
// is always safe.
package metadata

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kotodama-lab/danmuhive/internal/database"
	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/models"
)

// TmdbKeyConfigKey is the config KV key holding the runtime-tunable
// API key. A value stored there wins over the config file.
const TmdbKeyConfigKey = "metadata.tmdb_api_key"

// Store is the persistence the auto-map job needs. Implemented by
// database.DB.
type Store interface {
	ListTmdbMappableWorks(ctx context.Context) ([]database.TmdbMappableWork, error)
	UpsertWorkMetadata(ctx context.Context, meta *models.WorkMetadata) error
	UpsertWorkAliases(ctx context.Context, aliases *models.WorkAliases) error
	SaveTmdbEpisodeGroupMappings(ctx context.Context, groupID string, mappings []models.TmdbEpisodeMapping) error
	GetConfigValueDefault(ctx context.Context, key, def string) (string, error)
}

// AutoMap is the scheduled TMDB enrichment job.
type AutoMap struct {
	store       Store
	tmdb        *Client
	fallbackKey string
	pause       time.Duration
}

// NewAutoMap creates the job. fallbackKey is the config-file API key
// used when the config KV holds none.
func NewAutoMap(store Store, tmdb *Client, fallbackKey string) *AutoMap {
	return &AutoMap{
		store:       store,
		tmdb:        tmdb,
		fallbackKey: fallbackKey,
		pause:       time.Second,
	}
}

// Run walks every TMDB-bound series. Works without a stored episode
// group get one selected and persisted; every work with a group then
// has its mappings replaced from the group's current layout and its
// alias slots filled from alternative titles. One show failing does
// not stop the walk. Usable directly as a scheduler job body.
func (j *AutoMap) Run(ctx context.Context) error {
	apiKey, err := j.store.GetConfigValueDefault(ctx, TmdbKeyConfigKey, j.fallbackKey)
	if err != nil {
		return fmt.Errorf("failed to resolve tmdb api key: %w", err)
	}
	if apiKey == "" {
		logging.Info().Msg("TMDB auto-map skipped, no API key configured")
		return nil
	}

	works, err := j.store.ListTmdbMappableWorks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list mappable works: %w", err)
	}

	var mapped, failed int
	for i, w := range works {
		if i > 0 && j.pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(j.pause):
			}
		}
		if err := j.mapWork(ctx, apiKey, w); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			logging.Warn().
				Err(err).
				Int64("work_id", w.WorkID).
				Str("tmdb_id", w.TmdbID).
				Msg("TMDB auto-map failed for work, continuing")
			continue
		}
		mapped++
	}

	logging.Info().
		Int("mapped", mapped).
		Int("failed", failed).
		Msg("TMDB auto-map finished")
	return nil
}

func (j *AutoMap) mapWork(ctx context.Context, apiKey string, w database.TmdbMappableWork) error {
	tvID, err := strconv.ParseInt(w.TmdbID, 10, 64)
	if err != nil {
		return fmt.Errorf("work has non-numeric tmdb id %q", w.TmdbID)
	}

	groupID := w.GroupID
	if groupID == "" {
		groups, err := j.tmdb.EpisodeGroups(ctx, apiKey, w.TmdbID)
		if err != nil {
			return err
		}
		chosen, ok := chooseEpisodeGroup(groups)
		if ok {
			groupID = chosen.ID
			if err := j.store.UpsertWorkMetadata(ctx, &models.WorkMetadata{
				WorkID:             w.WorkID,
				TmdbEpisodeGroupID: groupID,
			}); err != nil {
				return err
			}
		} else {
			logging.Debug().
				Int64("work_id", w.WorkID).
				Str("tmdb_id", w.TmdbID).
				Msg("No usable episode group for work")
		}
	}

	if groupID != "" {
		details, err := j.tmdb.EpisodeGroupDetails(ctx, apiKey, groupID)
		if err != nil {
			return err
		}
		if err := j.store.SaveTmdbEpisodeGroupMappings(ctx, groupID, buildMappings(tvID, groupID, details)); err != nil {
			return err
		}
	}

	show, err := j.tmdb.ShowDetails(ctx, apiKey, w.TmdbID)
	if err != nil {
		return err
	}
	if aliases := aliasesFromTitles(w.WorkID, show.AlternativeTitles.Results); aliases != nil {
		if err := j.store.UpsertWorkAliases(ctx, aliases); err != nil {
			return err
		}
	}
	return nil
}

// seasonNameRe matches the per-season groups TMDB generates
// automatically ("Season 1", "Season 2"). They mirror the native
// numbering and carry no mapping value.
var seasonNameRe = regexp.MustCompile(`(?i)^Season \d+$`)

// chooseEpisodeGroup picks the group most likely to carry the intended
// viewing order: exact name "seasons" first, then any name containing
// it, then the first remaining group.
func chooseEpisodeGroup(groups []EpisodeGroup) (EpisodeGroup, bool) {
	kept := make([]EpisodeGroup, 0, len(groups))
	for _, g := range groups {
		if seasonNameRe.MatchString(g.Name) {
			continue
		}
		kept = append(kept, g)
	}
	if len(kept) == 0 {
		return EpisodeGroup{}, false
	}
	for _, g := range kept {
		if strings.EqualFold(g.Name, "seasons") {
			return g, true
		}
	}
	for _, g := range kept {
		if strings.Contains(strings.ToLower(g.Name), "seasons") {
			return g, true
		}
	}
	return kept[0], true
}

// buildMappings flattens a group's layout into mapping rows. Custom
// numbering follows the group's own season order with episodes counted
// 1-based inside each season; the absolute number is the group's order
// field made 1-based.
func buildMappings(tvID int64, groupID string, details *EpisodeGroupDetails) []models.TmdbEpisodeMapping {
	seasons := make([]GroupSeason, len(details.Groups))
	copy(seasons, details.Groups)
	sort.SliceStable(seasons, func(i, k int) bool { return seasons[i].Order < seasons[k].Order })

	var rows []models.TmdbEpisodeMapping
	for _, season := range seasons {
		for i, ep := range season.Episodes {
			rows = append(rows, models.TmdbEpisodeMapping{
				TmdbTvID:              tvID,
				GroupID:               groupID,
				TmdbEpisodeID:         ep.ID,
				TmdbSeasonNumber:      ep.SeasonNumber,
				TmdbEpisodeNumber:     ep.EpisodeNumber,
				CustomSeasonNumber:    season.Order,
				CustomEpisodeNumber:   i + 1,
				AbsoluteEpisodeNumber: ep.Order + 1,
			})
		}
	}
	return rows
}

var (
	aliasPhraseRe   = regexp.MustCompile(`(?i)劇場版|the movie`)
	trailingPunctRe = regexp.MustCompile(`[\s:：\-–.,，、·]+$`)
)

// cleanAliasTitle strips theatrical phrases and whatever punctuation
// they leave dangling at the end.
func cleanAliasTitle(title string) string {
	s := aliasPhraseRe.ReplaceAllString(title, " ")
	s = strings.Join(strings.Fields(s), " ")
	return trailingPunctRe.ReplaceAllString(s, "")
}

// aliasesFromTitles distributes regional titles into the work's alias
// slots: US fills the English slot with GB as fallback, Japanese
// titles split on the Romaji type marker, and Chinese-region titles
// fill up to three slots in encounter order. Returns nil when nothing
// was extracted.
func aliasesFromTitles(workID int64, titles []AlternativeTitle) *models.WorkAliases {
	aliases := &models.WorkAliases{WorkID: workID}
	var enGB string
	cn := make([]string, 0, 3)
	seenCn := map[string]bool{}

	for _, t := range titles {
		title := cleanAliasTitle(t.Title)
		if title == "" {
			continue
		}
		switch t.Country {
		case "US":
			if aliases.NameEn == "" {
				aliases.NameEn = title
			}
		case "GB":
			if enGB == "" {
				enGB = title
			}
		case "JP":
			if t.Type == "Romaji" {
				if aliases.NameRomaji == "" {
					aliases.NameRomaji = title
				}
			} else if aliases.NameJp == "" {
				aliases.NameJp = title
			}
		case "CN", "HK", "TW":
			if len(cn) < 3 && !seenCn[title] {
				cn = append(cn, title)
				seenCn[title] = true
			}
		}
	}
	if aliases.NameEn == "" {
		aliases.NameEn = enGB
	}
	for i, title := range cn {
		switch i {
		case 0:
			aliases.AliasCn1 = title
		case 1:
			aliases.AliasCn2 = title
		case 2:
			aliases.AliasCn3 = title
		}
	}
	if *aliases == (models.WorkAliases{WorkID: workID}) {
		return nil
	}
	return aliases
}
