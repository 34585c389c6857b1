package main

import "github.com/julienstroheker/hexagent/gateway/cmd"

func main() {
	cmd.Execute()
}
