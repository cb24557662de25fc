// meshctl is the operator CLI for a running meshnode daemon. It talks to
// meshnode's admin HTTP surface (GET /routes, GET /counters, POST
// /discover) over plain net/http, never ConnectRPC/gRPC.
package main

import "github.com/dj3m/meshstatic/cmd/meshctl/commands"

func main() {
	commands.Execute()
}
