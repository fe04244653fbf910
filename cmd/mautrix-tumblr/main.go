// Copyright 2024-2026 Aiku AI

// Command mautrix-tumblr is a Matrix-Tumblr messaging bridge built on the
// mautrix bridgev2 framework. It connects to Tumblr's direct messaging API,
// listens on the realtime telegraph channel and polls for unread messages,
// mirroring conversations into Matrix rooms.
package main

import (
	"github.com/aiku/mautrix-tumblr/pkg/connector"
	"maunium.net/go/mautrix/bridgev2/matrix/mxmain"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var m = mxmain.BridgeMain{
	Name:        "mautrix-tumblr",
	URL:         "https://github.com/aiku/mautrix-tumblr",
	Description: "A Matrix-Tumblr messaging bridge",
	Version:     "0.1.0",

	Connector: &connector.TumblrConnector{},
}

func main() {
	m.Run()
}
