package main

import (
	"github.com/alecthomas/kong"
)

const (
	Version = "v0.01.00"
	License = "Apache-2.0"
)

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("chatdesk"),
		kong.Description("Multi-provider LLM chat from the terminal"),
		kong.UsageOnError(),
		kong.Vars{"version": Version + " (" + License + ")"},
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
