// Command ytchat ingests channel transcripts and answers questions from
// them on the command line.
package main

import "github.com/tbourn/transcript-chat/internal/cli"

func main() {
	cli.Execute()
}
