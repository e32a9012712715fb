// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package database

import (
	"context"
	"errors"
	"testing"

	"github.com/kotodama-lab/danmuhive/internal/models"
)

func TestSaveTmdbEpisodeGroupMappingsReplaces(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	const groupID = "5f3d0a9e8c2b4e001c9d8f21"
	first := []models.TmdbEpisodeMapping{
		{TmdbTvID: 95479, GroupID: groupID, TmdbEpisodeID: 2724109, TmdbSeasonNumber: 1, TmdbEpisodeNumber: 1, CustomSeasonNumber: 1, CustomEpisodeNumber: 1, AbsoluteEpisodeNumber: 1},
		{TmdbTvID: 95479, GroupID: groupID, TmdbEpisodeID: 2724110, TmdbSeasonNumber: 1, TmdbEpisodeNumber: 2, CustomSeasonNumber: 1, CustomEpisodeNumber: 2, AbsoluteEpisodeNumber: 2},
		{TmdbTvID: 95479, GroupID: groupID, TmdbEpisodeID: 2724111, TmdbSeasonNumber: 1, TmdbEpisodeNumber: 3, CustomSeasonNumber: 2, CustomEpisodeNumber: 1, AbsoluteEpisodeNumber: 3},
	}
	if err := db.SaveTmdbEpisodeGroupMappings(ctx, groupID, first); err != nil {
		t.Fatalf("SaveTmdbEpisodeGroupMappings() failed: %v", err)
	}

	got, err := db.ListTmdbMappingsForGroup(ctx, groupID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d mappings, want 3", len(got))
	}

	// A re-run with a shorter list replaces the whole group, it does not
	// merge with the previous rows.
	second := []models.TmdbEpisodeMapping{
		{TmdbTvID: 95479, GroupID: groupID, TmdbEpisodeID: 2724109, TmdbSeasonNumber: 1, TmdbEpisodeNumber: 1, CustomSeasonNumber: 1, CustomEpisodeNumber: 1, AbsoluteEpisodeNumber: 1},
	}
	if err := db.SaveTmdbEpisodeGroupMappings(ctx, groupID, second); err != nil {
		t.Fatal(err)
	}
	got, err = db.ListTmdbMappingsForGroup(ctx, groupID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d mappings after replace, want 1", len(got))
	}

	// Other groups are untouched by the replace.
	otherGroup := "64b1c2d3e4f5a6001b7c8d90"
	if err := db.SaveTmdbEpisodeGroupMappings(ctx, otherGroup, []models.TmdbEpisodeMapping{
		{TmdbTvID: 1429, GroupID: otherGroup, TmdbEpisodeID: 62131, TmdbSeasonNumber: 1, TmdbEpisodeNumber: 1, CustomSeasonNumber: 1, CustomEpisodeNumber: 1, AbsoluteEpisodeNumber: 1},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveTmdbEpisodeGroupMappings(ctx, groupID, first); err != nil {
		t.Fatal(err)
	}
	other, err := db.ListTmdbMappingsForGroup(ctx, otherGroup)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 {
		t.Errorf("other group has %d mappings, want 1", len(other))
	}
}

func TestGetTmdbMappingByCustom(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	const groupID = "5f3d0a9e8c2b4e001c9d8f21"
	if err := db.SaveTmdbEpisodeGroupMappings(ctx, groupID, []models.TmdbEpisodeMapping{
		{TmdbTvID: 95479, GroupID: groupID, TmdbEpisodeID: 2724111, TmdbSeasonNumber: 1, TmdbEpisodeNumber: 13, CustomSeasonNumber: 2, CustomEpisodeNumber: 1, AbsoluteEpisodeNumber: 13},
	}); err != nil {
		t.Fatal(err)
	}

	m, err := db.GetTmdbMappingByCustom(ctx, 95479, 2, 1)
	if err != nil {
		t.Fatalf("GetTmdbMappingByCustom() failed: %v", err)
	}
	if m.TmdbEpisodeNumber != 13 || m.TmdbSeasonNumber != 1 {
		t.Errorf("mapping points at S%dE%d, want S1E13", m.TmdbSeasonNumber, m.TmdbEpisodeNumber)
	}

	if _, err := db.GetTmdbMappingByCustom(ctx, 95479, 9, 9); !errors.Is(err, ErrNotFound) {
		t.Errorf("unmapped episode should return ErrNotFound, got %v", err)
	}
}

func TestListTmdbMappableWorks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	mapped, _, err := db.GetOrCreateWork(ctx, "鬼灭之刃", models.MediaKindTVSeries, 1, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertWorkMetadata(ctx, &models.WorkMetadata{WorkID: mapped.ID, TmdbID: "85937"}); err != nil {
		t.Fatal(err)
	}

	// No TMDB ID yet, not mappable.
	if _, _, err := db.GetOrCreateWork(ctx, "无名作品", models.MediaKindTVSeries, 1, ""); err != nil {
		t.Fatal(err)
	}

	// Movies are skipped even with a TMDB ID.
	movie, _, err := db.GetOrCreateWork(ctx, "千与千寻", models.MediaKindMovie, 1, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertWorkMetadata(ctx, &models.WorkMetadata{WorkID: movie.ID, TmdbID: "129"}); err != nil {
		t.Fatal(err)
	}

	works, err := db.ListTmdbMappableWorks(ctx)
	if err != nil {
		t.Fatalf("ListTmdbMappableWorks() failed: %v", err)
	}
	if len(works) != 1 {
		t.Fatalf("got %d mappable works, want 1", len(works))
	}
	if works[0].WorkID != mapped.ID || works[0].TmdbID != "85937" {
		t.Errorf("unexpected mappable work: %+v", works[0])
	}
}
