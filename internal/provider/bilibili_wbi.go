// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package provider

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"

	"github.com/kotodama-lab/danmuhive/internal/logging"
	"github.com/kotodama-lab/danmuhive/internal/metrics"
)

// wbiMixinTab is the fixed permutation applied to the concatenated
// img_key+sub_key pair. The site rotates the keys roughly daily; the
// table itself is stable.
var wbiMixinTab = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35,
	27, 43, 5, 49, 33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13,
	37, 48, 7, 16, 24, 55, 40, 61, 26, 17, 0, 1, 60, 51, 30, 4,
	22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11, 36, 20, 34, 44, 52,
}

const wbiMixinTTL = time.Hour

// ensureMixinKey returns the cached 32-char mixin key, refreshing it
// from the nav endpoint when older than an hour. A nav failure forces
// a buvid3 refresh before the single retry, since an expired session
// is the usual cause.
func (a *Bilibili) ensureMixinKey(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.mixinKey != "" && time.Since(a.mixinAt) < wbiMixinTTL {
		key := a.mixinKey
		a.mu.Unlock()
		return key, nil
	}
	a.mu.Unlock()

	var key string
	err := retry.Do(
		func() error {
			var fetchErr error
			key, fetchErr = a.fetchMixinKey(ctx)
			return fetchErr
		},
		retry.Attempts(2),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.Delay(0),
		retry.OnRetry(func(_ uint, err error) {
			logging.Warn().Err(err).Msg("Bilibili nav fetch failed, refreshing buvid3 before retry")
			metrics.RecordSessionRefresh("bilibili", a.ensureBuvid(ctx, true))
		}),
	)
	if err != nil {
		return "", fmt.Errorf("bilibili: fetch wbi keys: %w", err)
	}

	a.mu.Lock()
	a.mixinKey = key
	a.mixinAt = time.Now()
	a.mu.Unlock()
	return key, nil
}

func (a *Bilibili) fetchMixinKey(ctx context.Context) (string, error) {
	var nav struct {
		Code int `json:"code"`
		Data struct {
			WbiImg struct {
				ImgURL string `json:"img_url"`
				SubURL string `json:"sub_url"`
			} `json:"wbi_img"`
		} `json:"data"`
	}
	headers := map[string]string{"Referer": a.wwwBase + "/"}
	if err := a.client.getJSON(ctx, a.apiBase+"/x/web-interface/nav", headers, &nav); err != nil {
		return "", err
	}
	imgKey := wbiKeyFromURL(nav.Data.WbiImg.ImgURL)
	subKey := wbiKeyFromURL(nav.Data.WbiImg.SubURL)
	if len(imgKey)+len(subKey) != 64 {
		return "", fmt.Errorf("nav returned malformed wbi keys (img %d chars, sub %d chars)", len(imgKey), len(subKey))
	}

	raw := imgKey + subKey
	var b strings.Builder
	b.Grow(32)
	for _, idx := range wbiMixinTab[:32] {
		b.WriteByte(raw[idx])
	}
	return b.String(), nil
}

// wbiKeyFromURL extracts the key from an image URL, the filename
// between the last '/' and the last '.'.
func wbiKeyFromURL(raw string) string {
	slash := strings.LastIndexByte(raw, '/')
	dot := strings.LastIndexByte(raw, '.')
	if slash < 0 || dot < 0 || dot <= slash+1 {
		return ""
	}
	return raw[slash+1 : dot]
}

// signWBI appends wts and w_rid to params and returns the encoded query
// exactly as signed, so the caller must use the returned string verbatim.
func signWBI(params url.Values, mixinKey string, now time.Time) string {
	params.Set("wts", strconv.FormatInt(now.Unix(), 10))

	// The upstream signer drops these characters from values entirely.
	for k, vs := range params {
		for i, v := range vs {
			vs[i] = strings.Map(func(r rune) rune {
				if strings.ContainsRune("!'()*", r) {
					return -1
				}
				return r
			}, v)
		}
		params[k] = vs
	}

	// Encode sorts keys; spaces must be %20 to match the upstream
	// encodeURIComponent-based signer.
	query := strings.ReplaceAll(params.Encode(), "+", "%20")
	sum := md5.Sum([]byte(query + mixinKey))
	return query + "&w_rid=" + hex.EncodeToString(sum[:])
}

// ensureBuvid guarantees the buvid3 device cookie is present, trying in
// order: persisted value, homepage Set-Cookie, the getbuvid API. The
// acquired cookie is persisted so restarts skip the handshake.
func (a *Bilibili) ensureBuvid(ctx context.Context, force bool) error {
	if !force {
		if a.client.cookieValue(a.wwwBase, "buvid3") != "" {
			return nil
		}
		if stored, err := a.kv.GetConfigValue(ctx, cookieKey(a.Name())); err == nil && stored != "" {
			a.client.seedCookies(a.wwwBase, stored)
			a.client.seedCookies(a.apiBase, stored)
			if a.client.cookieValue(a.wwwBase, "buvid3") != "" {
				return nil
			}
		}
	}

	// The homepage sets buvid3 for plain browser traffic. Referer is
	// deliberately empty to look like a direct visit.
	if res, err := a.client.getBytes(ctx, a.wwwBase+"/", map[string]string{"Referer": ""}); err == nil && res.Status == http.StatusOK {
		if a.client.cookieValue(a.wwwBase, "buvid3") != "" {
			return a.persistBuvid(ctx)
		}
	}

	var spi struct {
		Code int `json:"code"`
		Data struct {
			Buvid string `json:"buvid"`
		} `json:"data"`
	}
	if err := a.client.getJSON(ctx, a.apiBase+"/x/web-frontend/getbuvid", nil, &spi); err != nil {
		return fmt.Errorf("bilibili: acquire buvid3: %w", err)
	}
	if spi.Data.Buvid == "" {
		return fmt.Errorf("bilibili: getbuvid returned empty id (code %d)", spi.Code)
	}
	a.client.seedCookies(a.wwwBase, "buvid3="+spi.Data.Buvid)
	a.client.seedCookies(a.apiBase, "buvid3="+spi.Data.Buvid)
	return a.persistBuvid(ctx)
}

func (a *Bilibili) persistBuvid(ctx context.Context) error {
	val := a.client.cookieValue(a.wwwBase, "buvid3")
	if val == "" {
		return nil
	}
	if err := a.kv.SetConfigValue(ctx, cookieKey(a.Name()), "buvid3="+val); err != nil {
		logging.Warn().Err(err).Msg("Failed to persist bilibili session cookie")
	}
	return nil
}
