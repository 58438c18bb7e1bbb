// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package normalize

import (
	"encoding/json"
	"strings"

	"brandbrain/internal/evidence"
)

const snippetMax = 2000

func instagramPost(raw json.RawMessage) (*Payload, error) {
	var v struct {
		ID            string  `json:"id"`
		ShortCode     string  `json:"shortCode"`
		URL           string  `json:"url"`
		Caption       string  `json:"caption"`
		Timestamp     string  `json:"timestamp"`
		LikesCount    float64 `json:"likesCount"`
		CommentsCount float64 `json:"commentsCount"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	id := v.ID
	if id == "" {
		id = v.ShortCode
	}
	if id == "" || v.URL == "" {
		return nil, nil
	}
	return &Payload{
		Platform:     "instagram",
		ContentType:  evidence.ContentPost,
		ExternalID:   id,
		CanonicalURL: v.URL,
		PublishedAt:  parseTime(v.Timestamp),
		Metrics:      map[string]float64{"likes": v.LikesCount, "comments": v.CommentsCount},
		Text:         snippet(v.Caption, snippetMax),
		Flags:        map[string]bool{},
	}, nil
}

func instagramReel(raw json.RawMessage) (*Payload, error) {
	var v struct {
		ID             string  `json:"id"`
		URL            string  `json:"url"`
		Caption        string  `json:"caption"`
		Timestamp      string  `json:"timestamp"`
		LikesCount     float64 `json:"likesCount"`
		CommentsCount  float64 `json:"commentsCount"`
		VideoPlayCount float64 `json:"videoPlayCount"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if v.ID == "" || v.URL == "" {
		return nil, nil
	}
	return &Payload{
		Platform:     "instagram",
		ContentType:  evidence.ContentReel,
		ExternalID:   v.ID,
		CanonicalURL: v.URL,
		PublishedAt:  parseTime(v.Timestamp),
		Metrics: map[string]float64{
			"likes":    v.LikesCount,
			"comments": v.CommentsCount,
			"views":    v.VideoPlayCount,
		},
		Text:  snippet(v.Caption, snippetMax),
		Flags: map[string]bool{},
	}, nil
}

// linkedinPost company 与 profile posts 共用字段形状，仅 content_type 不同
func linkedinPost(contentType string) Adapter {
	return func(raw json.RawMessage) (*Payload, error) {
		var v struct {
			URN      string `json:"urn"`
			URL      string `json:"url"`
			Text     string `json:"text"`
			PostedAt struct {
				Date string `json:"date"`
			} `json:"posted_at"`
			Stats struct {
				TotalReactions float64 `json:"total_reactions"`
				Comments       float64 `json:"comments"`
				Reposts        float64 `json:"reposts"`
			} `json:"stats"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		if v.URN == "" || v.URL == "" {
			return nil, nil
		}
		return &Payload{
			Platform:     "linkedin",
			ContentType:  contentType,
			ExternalID:   v.URN,
			CanonicalURL: v.URL,
			PublishedAt:  parseTime(v.PostedAt.Date),
			Metrics: map[string]float64{
				"reactions": v.Stats.TotalReactions,
				"comments":  v.Stats.Comments,
				"shares":    v.Stats.Reposts,
			},
			Text:  snippet(v.Text, snippetMax),
			Flags: map[string]bool{},
		}, nil
	}
}

func tiktokVideo(raw json.RawMessage) (*Payload, error) {
	var v struct {
		ID           string  `json:"id"`
		WebVideoURL  string  `json:"webVideoUrl"`
		Text         string  `json:"text"`
		CreateTime   string  `json:"createTimeISO"`
		DiggCount    float64 `json:"diggCount"`
		CommentCount float64 `json:"commentCount"`
		PlayCount    float64 `json:"playCount"`
		ShareCount   float64 `json:"shareCount"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if v.ID == "" || v.WebVideoURL == "" {
		return nil, nil
	}
	return &Payload{
		Platform:     "tiktok",
		ContentType:  evidence.ContentShortVideo,
		ExternalID:   v.ID,
		CanonicalURL: v.WebVideoURL,
		PublishedAt:  parseTime(v.CreateTime),
		Metrics: map[string]float64{
			"likes":    v.DiggCount,
			"comments": v.CommentCount,
			"views":    v.PlayCount,
			"shares":   v.ShareCount,
		},
		Text:  snippet(v.Text, snippetMax),
		Flags: map[string]bool{},
	}, nil
}

func youtubeVideo(raw json.RawMessage) (*Payload, error) {
	var v struct {
		ID            string  `json:"id"`
		URL           string  `json:"url"`
		Title         string  `json:"title"`
		Text          string  `json:"text"`
		Date          string  `json:"date"`
		ViewCount     float64 `json:"viewCount"`
		Likes         float64 `json:"likes"`
		CommentsCount float64 `json:"commentsCount"`
		Subtitles     []struct {
			Language string `json:"language"`
		} `json:"subtitles"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if v.ID == "" || v.URL == "" {
		return nil, nil
	}
	text := v.Title
	if v.Text != "" {
		text = v.Title + "\n" + v.Text
	}
	return &Payload{
		Platform:     "youtube",
		ContentType:  evidence.ContentVideo,
		ExternalID:   v.ID,
		CanonicalURL: v.URL,
		PublishedAt:  parseTime(v.Date),
		Metrics: map[string]float64{
			"views":    v.ViewCount,
			"likes":    v.Likes,
			"comments": v.CommentsCount,
		},
		Text:  snippet(text, snippetMax),
		Flags: map[string]bool{"has_transcript": len(v.Subtitles) > 0},
	}, nil
}

// 列表/索引页的 URL 特征；命中则打 is_collection_page。
// 后缀类只匹配路径结尾（/blog 是列表页，/blog/post-1 不是），段类匹配任意位置
var (
	collectionSuffixes = []string{"/blog", "/news", "/archive", "/sitemap"}
	collectionSegments = []string{"/category/", "/tag/"}
)

func webPage(raw json.RawMessage) (*Payload, error) {
	var v struct {
		URL      string `json:"url"`
		Text     string `json:"text"`
		Metadata struct {
			Title        string `json:"title"`
			CanonicalURL string `json:"canonicalUrl"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	url := v.Metadata.CanonicalURL
	if url == "" {
		url = v.URL
	}
	if url == "" {
		return nil, nil
	}
	isCollection := false
	lower := strings.ToLower(strings.TrimSuffix(url, "/"))
	for _, s := range collectionSuffixes {
		if strings.HasSuffix(lower, s) {
			isCollection = true
			break
		}
	}
	if !isCollection {
		for _, s := range collectionSegments {
			if strings.Contains(lower, s) {
				isCollection = true
				break
			}
		}
	}
	text := v.Metadata.Title
	if v.Text != "" {
		text = v.Metadata.Title + "\n" + v.Text
	}
	return &Payload{
		Platform:     "web",
		ContentType:  evidence.ContentWebPage,
		CanonicalURL: url,
		Metrics:      map[string]float64{},
		Text:         snippet(text, snippetMax),
		Flags:        map[string]bool{"is_collection_page": isCollection},
	}, nil
}
