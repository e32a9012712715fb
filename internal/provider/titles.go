// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

/*
titles.go - Provider Title Utilities

Shared text processing applied to every title a provider returns before
it reaches the library:

  - HTML stripping: search endpoints wrap matched substrings in markup
    (Bilibili uses <em class="keyword">), which must never be stored.
  - Junk filtering: openings, endings, previews, specials and other
    non-main-content uploads are dropped from search results and
    episode lists.
  - Season parsing: the season marker is extracted from the title and
    the remaining base title returned separately, so "Show 第二季",
    "Show S2", "Show Season 2" and "Show Ⅱ" all converge on
    ("Show", 2).

All helpers are pure functions safe for concurrent use.
*/

//nolint:staticcheck // File documentation, not package doc
package provider

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/kotodama-lab/danmuhive/internal/models"
)

var (
	htmlTagRe = regexp.MustCompile(`<[^>]+>`)

	// Latin markers are matched case-sensitively so that words like
	// "co-op" or the name "Ed" in a real title survive the filter.
	junkLatinRe = regexp.MustCompile(`\bNC(?:OP|ED)\d*\b|\bOP\d*\b|\bED\d*\b|\bSP\d*\b|\bOVA\d*\b|\bOAD\d*\b|\bPV\d*\b|\bCM\d*\b|\bMV\b`)
	junkWordRe  = regexp.MustCompile(`(?i)\btrailer\b|\bpreview\b|\bmenu\b|\bbonus\b|\bteaser\b`)
	junkCJKRe   = regexp.MustCompile(`预告|預告|花絮|彩蛋|特典|菜单|速看|解说|看点|合集|纯享|抢先|片花|幕后`)

	seasonSRe       = regexp.MustCompile(`\b[Ss](\d{1,2})\b`)
	seasonWordRe    = regexp.MustCompile(`(?i)\bseason\s+(\d{1,2})\b`)
	seasonCJKRe     = regexp.MustCompile(`第([0-9一二三四五六七八九十]+)[季部]`)
	seasonRomanRe   = regexp.MustCompile(`\s+(XII|XI|IX|X|VIII|VII|VI|IV|V|III|II|I)$`)
	trailingJunkRe  = regexp.MustCompile(`[\s\-–·・:：]+$`)
	whitespaceRunRe = regexp.MustCompile(`\s{2,}`)
)

var romanValues = map[string]int{
	"I": 1, "II": 2, "III": 3, "IV": 4, "V": 5, "VI": 6,
	"VII": 7, "VIII": 8, "IX": 9, "X": 10, "XI": 11, "XII": 12,
}

// StripHTML removes markup tags and resolves HTML entities.
func StripHTML(s string) string {
	return html.UnescapeString(htmlTagRe.ReplaceAllString(s, ""))
}

// CleanTitle prepares a raw provider title for storage: markup removed,
// entities resolved, width-folded, half-width colon normalized and
// whitespace collapsed. Folding maps fullwidth Latin and digits to
// ASCII and halfwidth katakana back to their wide forms, so
// "Ｓｈｏｗ：２" and "Show:2" store identically; the fold runs before
// the colon rule so every colon variant ends up as "：".
func CleanTitle(raw string) string {
	s := StripHTML(raw)
	s = width.Fold.String(s)
	s = models.NormalizeWorkTitle(s)
	s = whitespaceRunRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// IsJunkTitle reports whether a title names non-main content such as an
// opening, preview or behind-the-scenes upload. Junk entries are dropped
// from search results and episode lists.
func IsJunkTitle(title string) bool {
	return junkLatinRe.MatchString(title) ||
		junkWordRe.MatchString(title) ||
		junkCJKRe.MatchString(title)
}

// ParseSeason extracts the season number from a title and returns the
// base title with the marker removed. Recognized forms, first match
// wins: "S2"/"s02", "Season 2", "第二季"/"第2季"/"第二部", trailing
// Roman numerals I..XII and fullwidth Ⅰ..Ⅻ. Titles without a marker
// default to season 1.
func ParseSeason(title string) (string, int) {
	title = strings.TrimSpace(title)

	if m := seasonSRe.FindStringSubmatchIndex(title); m != nil {
		if n, err := strconv.Atoi(title[m[2]:m[3]]); err == nil && n >= 1 {
			return trimSeasonBase(title[:m[0]] + title[m[1]:]), n
		}
	}
	if m := seasonWordRe.FindStringSubmatchIndex(title); m != nil {
		if n, err := strconv.Atoi(title[m[2]:m[3]]); err == nil && n >= 1 {
			return trimSeasonBase(title[:m[0]] + title[m[1]:]), n
		}
	}
	if m := seasonCJKRe.FindStringSubmatchIndex(title); m != nil {
		if n := parseCJKNumeral(title[m[2]:m[3]]); n >= 1 {
			return trimSeasonBase(title[:m[0]] + title[m[1]:]), n
		}
	}
	if m := seasonRomanRe.FindStringSubmatch(title); m != nil {
		return trimSeasonBase(strings.TrimSuffix(title, m[0])), romanValues[m[1]]
	}
	if base, n, ok := trailingFullwidthRoman(title); ok {
		return trimSeasonBase(base), n
	}
	return title, 1
}

// trailingFullwidthRoman handles the single-rune numerals Ⅰ (U+2160)
// through Ⅻ (U+216B) at the end of a title.
func trailingFullwidthRoman(title string) (string, int, bool) {
	runes := []rune(title)
	if len(runes) == 0 {
		return title, 0, false
	}
	last := runes[len(runes)-1]
	if last < 'Ⅰ' || last > 'Ⅻ' {
		return title, 0, false
	}
	return string(runes[:len(runes)-1]), int(last-'Ⅰ') + 1, true
}

func trimSeasonBase(s string) string {
	s = whitespaceRunRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(trailingJunkRe.ReplaceAllString(s, ""))
}

// parseCJKNumeral converts 一..十二 or plain digits to an int. Returns 0
// on anything it cannot read.
func parseCJKNumeral(s string) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	switch s {
	case "一":
		return 1
	case "二":
		return 2
	case "三":
		return 3
	case "四":
		return 4
	case "五":
		return 5
	case "六":
		return 6
	case "七":
		return 7
	case "八":
		return 8
	case "九":
		return 9
	case "十":
		return 10
	case "十一":
		return 11
	case "十二":
		return 12
	}
	return 0
}
