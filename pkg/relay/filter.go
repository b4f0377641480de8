// Copyright 2024-2026 Aiku AI

package relay

import (
	"strings"
)

// FilterTag is a content type a forwarding rule can select.
type FilterTag string

const (
	FilterText  FilterTag = "text"
	FilterPhoto FilterTag = "photo"
	FilterVideo FilterTag = "video"
	FilterLink  FilterTag = "link"
)

// FilterSet is a set of known filter tags.
type FilterSet uint8

const (
	filterText FilterSet = 1 << iota
	filterPhoto
	filterVideo
	filterLink
)

var filterTags = []struct {
	tag FilterTag
	bit FilterSet
}{
	{FilterText, filterText},
	{FilterPhoto, filterPhoto},
	{FilterVideo, filterVideo},
	{FilterLink, filterLink},
}

// ParseFilterSet builds a FilterSet from tags. Unknown tags are ignored so
// newer clients can send tags this version does not know yet.
func ParseFilterSet(tags []string) FilterSet {
	var set FilterSet
	for _, raw := range tags {
		tag := FilterTag(strings.ToLower(strings.TrimSpace(raw)))
		for _, known := range filterTags {
			if known.tag == tag {
				set |= known.bit
			}
		}
	}
	return set
}

// Has reports whether tag is in the set.
func (s FilterSet) Has(tag FilterTag) bool {
	for _, known := range filterTags {
		if known.tag == tag {
			return s&known.bit != 0
		}
	}
	return false
}

// IsEmpty reports whether the set has no tags. An empty set matches nothing.
func (s FilterSet) IsEmpty() bool {
	return s == 0
}

// Tags returns the tags in the set in canonical order.
func (s FilterSet) Tags() []string {
	tags := make([]string, 0, len(filterTags))
	for _, known := range filterTags {
		if s&known.bit != 0 {
			tags = append(tags, string(known.tag))
		}
	}
	return tags
}

// Matches reports whether msg should be forwarded under filters. A message
// matches if any requested filter matches: with {text, link} a plain text
// message without links is forwarded.
func Matches(msg *Message, filters FilterSet) bool {
	if msg == nil || filters.IsEmpty() {
		return false
	}
	if filters.Has(FilterText) && msg.Text != "" {
		return true
	}
	if filters.Has(FilterPhoto) && msg.HasPhoto {
		return true
	}
	if filters.Has(FilterVideo) && msg.HasVideo {
		return true
	}
	if filters.Has(FilterLink) {
		for _, entity := range msg.Entities {
			if entity.IsLink() {
				return true
			}
		}
	}
	return false
}
