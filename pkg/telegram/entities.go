// Copyright 2024-2026 Aiku AI

package telegram

import (
	"github.com/gotd/td/tg"

	"github.com/aiku/telegram-relay/pkg/relay"
)

// convertMessage extracts what forwarding rules filter on. Messages without
// a known peer are skipped.
func convertMessage(msg *tg.Message) (*relay.Message, bool) {
	channel, ok := markedID(msg.PeerID)
	if !ok {
		return nil, false
	}
	out := &relay.Message{
		ID:       msg.ID,
		Channel:  channel,
		Text:     msg.Message,
		Entities: convertEntities(msg.Entities),
	}
	if msg.Media != nil {
		out.HasPhoto = hasPhoto(msg.Media)
		out.HasVideo = hasVideo(msg.Media)
	}
	return out, true
}

// hasPhoto reports a photo attachment or a link preview carrying one.
func hasPhoto(media tg.MessageMediaClass) bool {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		_, ok := m.Photo.(*tg.Photo)
		return ok
	case *tg.MessageMediaWebPage:
		page, ok := m.Webpage.(*tg.WebPage)
		if !ok {
			return false
		}
		_, ok = page.Photo.(*tg.Photo)
		return ok
	default:
		return false
	}
}

// hasVideo reports a document with video attributes. Round videos and GIFs
// carry the same attribute and count as video.
func hasVideo(media tg.MessageMediaClass) bool {
	m, ok := media.(*tg.MessageMediaDocument)
	if !ok {
		return false
	}
	document, ok := m.Document.(*tg.Document)
	if !ok {
		return false
	}
	for _, attr := range document.Attributes {
		if _, ok := attr.(*tg.DocumentAttributeVideo); ok {
			return true
		}
	}
	return false
}

func convertEntities(entities []tg.MessageEntityClass) []relay.Entity {
	if len(entities) == 0 {
		return nil
	}
	out := make([]relay.Entity, 0, len(entities))
	for _, e := range entities {
		entity := relay.Entity{
			Kind:   relay.EntityOther,
			Offset: e.GetOffset(),
			Length: e.GetLength(),
		}
		switch v := e.(type) {
		case *tg.MessageEntityURL:
			entity.Kind = relay.EntityURL
		case *tg.MessageEntityTextURL:
			entity.Kind = relay.EntityTextURL
			entity.URL = v.URL
		}
		out = append(out, entity)
	}
	return out
}
