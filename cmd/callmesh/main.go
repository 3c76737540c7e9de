package main

import "github.com/callmesh/callmesh/internal/cli"

func main() {
	cli.Execute()
}
