package domain

import (
	"fmt"
	"strconv"
)

// DeepLink resolves the in-app navigation target. Events and blog posts with a
// reference id get a scheme URL, everything else falls back to ReferenceURL.
func (n *Notification) DeepLink(scheme string) string {
	if n.ReferenceID != nil {
		switch n.Category {
		case CategoryEvent:
			return fmt.Sprintf("%s://events/%d", scheme, *n.ReferenceID)
		case CategoryBlogPost:
			return fmt.Sprintf("%s://blog/%d", scheme, *n.ReferenceID)
		}
	}
	return n.ReferenceURL
}

// ReferenceIDString renders the reference id for string-only payloads
func (n *Notification) ReferenceIDString() string {
	if n.ReferenceID == nil {
		return ""
	}
	return strconv.FormatInt(*n.ReferenceID, 10)
}

// ChannelID is the Android notification channel for the category
func (c Category) ChannelID() string {
	switch c {
	case CategoryEvent:
		return "events"
	case CategoryBlogPost:
		return "blog"
	case CategoryAnnouncement:
		return "announcements"
	default:
		return "default"
	}
}

// Color is the Android accent colour for the category
func (c Category) Color() string {
	switch c {
	case CategoryEvent:
		return "#4CAF50"
	case CategoryAnnouncement:
		return "#FF9800"
	default:
		return "#2196F3"
	}
}
