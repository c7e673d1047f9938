package main

import "resilient/internal/cli"

func main() {
	cli.Execute()
}
