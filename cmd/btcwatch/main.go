package main

import "btcwatch/internal/cli"

func main() {
	cli.Execute()
}
