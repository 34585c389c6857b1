package main

import "github.com/julienstroheker/hexagent/client/cmd"

func main() {
	cmd.Execute()
}
