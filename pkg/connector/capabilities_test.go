// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"testing"

	"maunium.net/go/mautrix/event"
)

func TestGetCapabilities_Formatting(t *testing.T) {
	t.Parallel()
	client := &TumblrClient{}
	caps := client.GetCapabilities(context.Background(), nil)

	expectedFull := []event.FormattingFeature{
		event.FmtBold,
		event.FmtItalic,
		event.FmtStrikethrough,
		event.FmtInlineLink,
	}
	for _, f := range expectedFull {
		level, ok := caps.Formatting[f]
		if !ok {
			t.Errorf("Formatting missing %v", f)
			continue
		}
		if level != event.CapLevelFullySupported {
			t.Errorf("Formatting %v: got %v, want FullySupported", f, level)
		}
	}

	if level := caps.Formatting[event.FmtUserLink]; level != event.CapLevelPartialSupport {
		t.Errorf("FmtUserLink: got %v, want PartialSupport", level)
	}
}

func TestGetCapabilities_Files(t *testing.T) {
	t.Parallel()
	client := &TumblrClient{}
	caps := client.GetCapabilities(context.Background(), nil)

	imageCaps, ok := caps.File[event.MsgImage]
	if !ok {
		t.Fatal("File capabilities missing MsgImage")
	}
	if imageCaps.MaxSize != 10*1024*1024 {
		t.Errorf("image MaxSize: got %d", imageCaps.MaxSize)
	}
	if level := imageCaps.MimeTypes["image/*"]; level != event.CapLevelFullySupported {
		t.Errorf("image/*: got %v, want FullySupported", level)
	}

	if _, ok := caps.File[event.MsgVideo]; ok {
		t.Error("videos are not supported and should not be advertised")
	}
}

// Tumblr messaging has no edits, deletes, replies, or reactions.
func TestGetCapabilities_UnsupportedFeatures(t *testing.T) {
	t.Parallel()
	client := &TumblrClient{}
	caps := client.GetCapabilities(context.Background(), nil)

	if caps.Reply != event.CapLevelDropped {
		t.Errorf("Reply: got %v, want Dropped", caps.Reply)
	}
	if caps.Edit != event.CapLevelRejected {
		t.Errorf("Edit: got %v, want Rejected", caps.Edit)
	}
	if caps.Delete != event.CapLevelRejected {
		t.Errorf("Delete: got %v, want Rejected", caps.Delete)
	}
	if caps.Reaction != event.CapLevelRejected {
		t.Errorf("Reaction: got %v, want Rejected", caps.Reaction)
	}
	if !caps.ReadReceipts {
		t.Error("ReadReceipts should be supported")
	}
	if caps.MaxTextLength != 4096 {
		t.Errorf("MaxTextLength: got %d, want 4096", caps.MaxTextLength)
	}
}
