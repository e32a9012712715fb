// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package matcher

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kotodama-lab/danmuhive/internal/models"
	"github.com/kotodama-lab/danmuhive/internal/provider"
)

// ParsedFile is what ParseFileName extracts from a release file name.
type ParsedFile struct {
	Title   string
	Season  int
	Episode int
	Kind    models.MediaKind
}

var (
	// moviePhraseRe marks titles that name a theatrical release.
	moviePhraseRe = regexp.MustCompile(`(?i)剧场版|劇場版|movie|映画`)

	// seasonEpisodeRe handles the SxxEyy form media servers emit.
	seasonEpisodeRe = regexp.MustCompile(`(?i)^(.+?)[ ._-]+S(\d{1,2})[ ._]?E(\d{1,4})`)

	// episodePatterns is the cascade for fansub-style names, most
	// specific first. Trailing bracketed tags ([1080p], (END)) are
	// tolerated after the episode number.
	episodePatterns = []*regexp.Regexp{
		// [group] title - 07
		regexp.MustCompile(`^\[[^\]]+\]\s*(.+?)\s*-\s*(\d{1,4})\s*(?:[\[(（【].*)?$`),
		// title - 07
		regexp.MustCompile(`^(.+?)\s*-\s*(\d{1,4})\s*(?:[\[(（【].*)?$`),
		// [group] title 07
		regexp.MustCompile(`^\[[^\]]+\]\s*(.+?)\s+(\d{1,3})\s*(?:[\[(（【].*)?$`),
		// title 07
		regexp.MustCompile(`^(.+?)\s+(\d{1,3})\s*(?:[\[(（【].*)?$`),
	}

	bracketRe    = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|【[^】]*】|（[^）]*）`)
	qualityTagRe = regexp.MustCompile(`(?i)\b(?:\d{3,4}p|[248]k|x26[45]|h\.?26[45]|hevc|avc|aac|ac3|flac|opus|web-?dl|webrip|bdrip|blu-?ray|bluray|hdtv|remux|hdr10?|10bit|8bit|\d{2,3}fps|chs|cht|big5|jpsc|jptc)\b`)
	yearRe       = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	extensionRe  = regexp.MustCompile(`\.[A-Za-z0-9]{2,4}$`)
)

// ParseFileName extracts a title, season and episode from a release
// file name. Explicit episode markers are tried first; a name with no
// recognizable marker is treated as a movie after stripping brackets
// and quality tags. Returns false when not even a title survives.
func ParseFileName(name string) (ParsedFile, bool) {
	base := name
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	base = extensionRe.ReplaceAllString(base, "")
	base = strings.TrimSpace(base)
	if base == "" {
		return ParsedFile{}, false
	}
	// Dot-separated release names carry no spaces to split on.
	if !strings.ContainsRune(base, ' ') {
		base = strings.NewReplacer(".", " ", "_", " ").Replace(base)
	}

	if m := seasonEpisodeRe.FindStringSubmatch(base); m != nil {
		season, _ := strconv.Atoi(m[2])
		episode, _ := strconv.Atoi(m[3])
		if title := collapseTitle(bracketRe.ReplaceAllString(m[1], " ")); title != "" && episode >= 1 {
			if season < 1 {
				season = 1
			}
			return ParsedFile{Title: title, Season: season, Episode: episode, Kind: models.MediaKindTVSeries}, true
		}
	}

	for _, re := range episodePatterns {
		m := re.FindStringSubmatch(base)
		if m == nil {
			continue
		}
		episode, _ := strconv.Atoi(m[2])
		title := collapseTitle(m[1])
		if title == "" || episode < 1 {
			continue
		}
		title, season := provider.ParseSeason(title)
		if title == "" {
			continue
		}
		return ParsedFile{Title: title, Season: season, Episode: episode, Kind: models.MediaKindTVSeries}, true
	}

	title := bracketRe.ReplaceAllString(base, " ")
	title = qualityTagRe.ReplaceAllString(title, " ")
	// A release year is noise next to the title, unless the year is
	// the whole title.
	if t := collapseTitle(yearRe.ReplaceAllString(title, " ")); t != "" {
		title = t
	} else {
		title = collapseTitle(title)
	}
	if title == "" {
		return ParsedFile{}, false
	}
	title, season := provider.ParseSeason(title)
	return ParsedFile{Title: title, Season: season, Episode: 1, Kind: models.MediaKindMovie}, true
}

// collapseTitle squeezes separator runs and trims leftover punctuation
// from a captured title fragment.
func collapseTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, " -_.")
}
