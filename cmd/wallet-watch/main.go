package main

import (
	"wallet-watch/internal/cli"
)

func main() {
	cli.Execute()
}
