package main

import "github.com/nodequota/ratelimit/cmd/ratelimitd/cmd"

func main() {
	cmd.Execute()
}
