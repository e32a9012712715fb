// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordProviderRequest(t *testing.T) {
	before := testutil.ToFloat64(ProviderRequests.WithLabelValues("bilibili", "success"))
	RecordProviderRequest("bilibili", 120*time.Millisecond, nil)
	after := testutil.ToFloat64(ProviderRequests.WithLabelValues("bilibili", "success"))
	if after != before+1 {
		t.Errorf("success counter = %v, want %v", after, before+1)
	}

	beforeFail := testutil.ToFloat64(ProviderRequests.WithLabelValues("bilibili", "failure"))
	RecordProviderRequest("bilibili", 20*time.Second, errors.New("timeout"))
	afterFail := testutil.ToFloat64(ProviderRequests.WithLabelValues("bilibili", "failure"))
	if afterFail != beforeFail+1 {
		t.Errorf("failure counter = %v, want %v", afterFail, beforeFail+1)
	}
}

func TestRecordImportAccumulates(t *testing.T) {
	beforeEp := testutil.ToFloat64(EpisodesImported.WithLabelValues("tencent"))
	beforeCm := testutil.ToFloat64(CommentsImported.WithLabelValues("tencent"))

	RecordImport("tencent", 12, 3400, 90*time.Second)

	if got := testutil.ToFloat64(EpisodesImported.WithLabelValues("tencent")); got != beforeEp+12 {
		t.Errorf("episodes counter = %v, want %v", got, beforeEp+12)
	}
	if got := testutil.ToFloat64(CommentsImported.WithLabelValues("tencent")); got != beforeCm+3400 {
		t.Errorf("comments counter = %v, want %v", got, beforeCm+3400)
	}
}

func TestRecordDBQueryTruncatesLongErrors(t *testing.T) {
	long := errors.New("this is a very long error message that exceeds fifty characters and then some")
	// Must not panic; label value is truncated to 50 chars internally.
	RecordDBQuery("INSERT", "comments", 5*time.Millisecond, long)
	RecordDBQuery("SELECT", "works", 500*time.Microsecond, nil)
}

func TestTrackActiveRequest(t *testing.T) {
	base := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	TrackActiveRequest(true)
	if got := testutil.ToFloat64(APIActiveRequests); got != base+2 {
		t.Errorf("active requests = %v, want %v", got, base+2)
	}
	TrackActiveRequest(false)
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != base {
		t.Errorf("active requests after release = %v, want %v", got, base)
	}
}

func TestRecordTokenValidation(t *testing.T) {
	before := testutil.ToFloat64(TokenValidations.WithLabelValues("invalid"))
	RecordTokenValidation(false)
	if got := testutil.ToFloat64(TokenValidations.WithLabelValues("invalid")); got != before+1 {
		t.Errorf("invalid counter = %v, want %v", got, before+1)
	}
}

func TestHelpersAreConcurrencySafe(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				RecordProviderRequest("gamer", time.Millisecond, nil)
				RecordCacheHit("search")
				RecordCacheMiss("search")
				RecordMatch("matched")
				TrackActiveRequest(true)
				TrackActiveRequest(false)
			}
		}()
	}
	wg.Wait()
}
