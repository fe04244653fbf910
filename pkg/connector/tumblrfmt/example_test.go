// Copyright 2024-2026 Aiku AI

package tumblrfmt_test

import (
	"fmt"

	"github.com/aiku/mautrix-tumblr/pkg/connector/tumblrfmt"
	"github.com/aiku/mautrix-tumblr/pkg/tumblr"
)

func ExampleToMatrix() {
	msg := tumblrfmt.ToMatrix(&tumblr.TextContent{
		Text: "hello world",
		Formatting: []tumblr.FormattingRange{
			{Type: "bold", Start: 0, End: 5},
		},
	})
	fmt.Println(msg.FormattedBody)
	// Output: <strong>hello</strong> world
}
