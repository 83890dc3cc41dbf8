package fal

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ncecere/open_image_gateway/internal/models"
)

// ExtractOutput pulls image URLs and echo fields out of a job result body.
// Candidate locations are tried in order: images[], image{}, output[]
// restricted to image content types, then a bare top-level list. The first
// location yielding any URL wins.
func ExtractOutput(body []byte) models.JobOutput {
	if !gjson.ValidBytes(body) {
		return models.JobOutput{}
	}
	doc := gjson.ParseBytes(body)

	var out models.JobOutput
	switch {
	case doc.IsArray():
		out.URLs = urlsFrom(doc, false)
	case doc.IsObject():
		for _, extract := range []func(gjson.Result) []string{
			func(d gjson.Result) []string { return urlsFrom(d.Get("images"), false) },
			func(d gjson.Result) []string { return urlOf(d.Get("image")) },
			func(d gjson.Result) []string { return urlsFrom(d.Get("output"), true) },
		} {
			if urls := extract(doc); len(urls) > 0 {
				out.URLs = urls
				break
			}
		}
		if seed := doc.Get("seed"); seed.Type == gjson.Number {
			v := seed.Int()
			out.Seed = &v
		}
		out.Prompt = strings.TrimSpace(doc.Get("prompt").String())
	}
	return out
}

// FailureReason returns the most specific explanation found in a failed job
// body, or "" when none is present.
func FailureReason(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return ""
	}
	for _, key := range []string{"detail", "error", "message"} {
		if text := describe(doc.Get(key)); text != "" {
			return text
		}
	}
	return ""
}

func urlsFrom(list gjson.Result, imagesOnly bool) []string {
	if !list.IsArray() {
		return nil
	}
	var urls []string
	for _, item := range list.Array() {
		if imagesOnly && !strings.HasPrefix(strings.ToLower(item.Get("content_type").String()), "image/") {
			continue
		}
		urls = append(urls, urlOf(item)...)
	}
	return urls
}

func urlOf(item gjson.Result) []string {
	var url string
	switch {
	case item.Type == gjson.String:
		url = item.String()
	case item.IsObject():
		url = item.Get("url").String()
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	return []string{url}
}

func describe(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return strings.TrimSpace(v.String())
	case v.IsObject():
		for _, key := range []string{"message", "msg", "detail"} {
			if text := describe(v.Get(key)); text != "" {
				return text
			}
		}
	case v.IsArray():
		parts := make([]string, 0, len(v.Array()))
		for _, item := range v.Array() {
			if text := describe(item); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}
