package main

import "github.com/splitlease/proposal-sync/internal/cli"

func main() {
	cli.Execute()
}
