// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

/*
bilibili_dm.go - Danmaku Segment Wire Decoding

seg.so responses are the protobuf message

	DmSegMobileReply { repeated DanmakuElem elems = 1; ... }
	DanmakuElem {
	    int64  id       = 1;
	    int32  progress = 2;  // offset in milliseconds
	    int32  mode     = 3;
	    int32  fontsize = 4;
	    uint32 color    = 5;
	    string midHash  = 6;
	    string content  = 7;
	    int64  ctime    = 8;
	}

decoded here directly with protowire rather than generated stubs. Only
the listed fields are read; everything else is skipped by wire type, so
upstream additions never break the decoder.
*/

//nolint:staticcheck // File documentation, not package doc
package provider

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kotodama-lab/danmuhive/internal/models"
)

type dmElem struct {
	ID       int64
	Progress int32
	Mode     int32
	Fontsize int32
	Color    uint32
	MidHash  string
	Content  string
	Ctime    int64
}

// decodeDMSegment parses one DmSegMobileReply payload.
func decodeDMSegment(data []byte) ([]dmElem, error) {
	var elems []dmElem
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("bilibili: malformed segment tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num == 1 && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("bilibili: malformed elem field: %w", protowire.ParseError(n))
			}
			data = data[n:]

			elem, err := decodeDMElem(raw)
			if err != nil {
				return nil, err
			}
			elems = append(elems, elem)
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("bilibili: malformed segment field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return elems, nil
}

func decodeDMElem(data []byte) (dmElem, error) {
	var e dmElem
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, fmt.Errorf("bilibili: malformed elem tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.ID = int64(v)
			data = data[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.Progress = int32(v)
			data = data[n:]
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.Mode = int32(v)
			data = data[n:]
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.Fontsize = int32(v)
			data = data[n:]
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.Color = uint32(v)
			data = data[n:]
		case num == 6 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.MidHash = v
			data = data[n:]
		case num == 7 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.Content = v
			data = data[n:]
		case num == 8 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, protowire.ParseError(n)
			}
			e.Ctime = int64(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return e, fmt.Errorf("bilibili: malformed elem field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return e, nil
}

// dedupeAndCollapse removes duplicate ids across pools, then collapses
// repeated content: within a content group of size >1, the earliest
// appearance survives with " X<count>" appended. Output is ordered by
// playback offset.
func dedupeAndCollapse(elems []dmElem) []dmElem {
	seen := make(map[int64]struct{}, len(elems))
	unique := elems[:0:0]
	for _, e := range elems {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		unique = append(unique, e)
	}

	type group struct {
		earliest int
		count    int
	}
	groups := make(map[string]*group, len(unique))
	for i, e := range unique {
		g, ok := groups[e.Content]
		if !ok {
			groups[e.Content] = &group{earliest: i, count: 1}
			continue
		}
		g.count++
		if unique[i].Progress < unique[g.earliest].Progress {
			g.earliest = i
		}
	}

	out := make([]dmElem, 0, len(groups))
	for content, g := range groups {
		e := unique[g.earliest]
		if g.count > 1 {
			e.Content = fmt.Sprintf("%s X%d", content, g.count)
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Progress != out[j].Progress {
			return out[i].Progress < out[j].Progress
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// biliComment converts a decoded element to the normalized record.
// Modes 4 and 5 map through, other scroll variants become 1; advanced
// and script danmaku (mode 7+) are dropped by the caller.
func biliComment(e dmElem) models.Comment {
	mode := models.CommentModeScroll
	switch e.Mode {
	case 4:
		mode = models.CommentModeBottomFixed
	case 5:
		mode = models.CommentModeTopFixed
	}
	seconds := float64(e.Progress) / 1000.0
	return models.Comment{
		CID: fmt.Sprintf("%d", e.ID),
		P:   models.FormatCommentP(seconds, mode, e.Color, "bilibili"),
		M:   e.Content,
		T:   seconds,
	}
}
