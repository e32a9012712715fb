// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package models

// ============================================================================
// dandanplay-compatible API models
// ============================================================================
// These structures mirror the response shapes of the dandanplay open API,
// which danmaku-capable players consume. Field names are fixed by that
// protocol (camelCase) and must not change, or players silently break.

// DandanResponseBase carries the status fields every compat response starts
// with. ErrorCode 0 means success.
type DandanResponseBase struct {
	ErrorCode    int    `json:"errorCode"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage"`
}

// DandanSuccess returns the base for a successful response.
func DandanSuccess() DandanResponseBase {
	return DandanResponseBase{ErrorCode: 0, Success: true}
}

// DandanFailure returns the base for a failed response with the given
// protocol error code and message.
func DandanFailure(code int, message string) DandanResponseBase {
	return DandanResponseBase{ErrorCode: code, Success: false, ErrorMessage: message}
}

// DandanEpisode is one episode inside a DandanAnime listing.
type DandanEpisode struct {
	EpisodeID    int64  `json:"episodeId"`
	EpisodeTitle string `json:"episodeTitle"`
}

// DandanAnime is one library Work rendered for the compat search surface.
type DandanAnime struct {
	AnimeID         int64           `json:"animeId"`
	BangumiID       string          `json:"bangumiId"`
	AnimeTitle      string          `json:"animeTitle"`
	Type            string          `json:"type"`
	TypeDescription string          `json:"typeDescription"`
	ImageURL        string          `json:"imageUrl"`
	StartDate       string          `json:"startDate"`
	EpisodeCount    int             `json:"episodeCount"`
	Episodes        []DandanEpisode `json:"episodes"`
}

// DandanSearchEpisodesResponse answers /search/episodes and /search/anime.
type DandanSearchEpisodesResponse struct {
	DandanResponseBase
	HasMore bool          `json:"hasMore"`
	Animes  []DandanAnime `json:"animes"`
}

// DandanMatchRequest is the body of POST /match. Only FileName drives
// matching; the hash fields are accepted for protocol compatibility.
type DandanMatchRequest struct {
	FileName      string `json:"fileName" validate:"required"`
	FileHash      string `json:"fileHash,omitempty"`
	FileSize      int64  `json:"fileSize,omitempty"`
	VideoDuration int64  `json:"videoDuration,omitempty"`
	MatchMode     string `json:"matchMode,omitempty"`
}

// DandanBatchMatchRequest is the body of POST /match/batch. The server
// rejects more than 32 requests per call.
type DandanBatchMatchRequest struct {
	Requests []DandanMatchRequest `json:"requests" validate:"required,max=32"`
}

// DandanMatchResult is one candidate episode for a matched file.
type DandanMatchResult struct {
	EpisodeID       int64   `json:"episodeId"`
	AnimeID         int64   `json:"animeId"`
	AnimeTitle      string  `json:"animeTitle"`
	EpisodeTitle    string  `json:"episodeTitle"`
	Type            string  `json:"type"`
	TypeDescription string  `json:"typeDescription"`
	Shift           float64 `json:"shift"`
}

// DandanMatchResponse answers POST /match. IsMatched is true only when the
// result is unambiguous (a single library episode).
type DandanMatchResponse struct {
	DandanResponseBase
	IsMatched bool                `json:"isMatched"`
	Matches   []DandanMatchResult `json:"matches"`
}

// DandanBatchMatchResponse answers POST /match/batch with one entry per
// request, in request order.
type DandanBatchMatchResponse []DandanMatchResponse

// DandanBangumiDetail is the payload of GET /bangumi/{id}.
type DandanBangumiDetail struct {
	DandanAnime
	IsFavorited bool `json:"isFavorited"`
}

// DandanBangumiResponse wraps GET /bangumi/{id}.
type DandanBangumiResponse struct {
	DandanResponseBase
	Bangumi *DandanBangumiDetail `json:"bangumi"`
}

// DandanComment is one danmaku record on the compat wire: the parameter
// string P plus the message body M, keyed by the provider comment id.
type DandanComment struct {
	CID string `json:"cid"`
	P   string `json:"p"`
	M   string `json:"m"`
}

// DandanCommentResponse answers GET /comment/{episodeId}.
type DandanCommentResponse struct {
	Count    int             `json:"count"`
	Comments []DandanComment `json:"comments"`
}
