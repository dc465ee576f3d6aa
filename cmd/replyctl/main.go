// Command replyctl is the administrative CLI for the replyflow service.
package main

import "github.com/replyflow/replyflow/cmd/cli"

func main() {
	cli.Execute()
}
