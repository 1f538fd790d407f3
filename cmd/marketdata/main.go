package main

import "market-data-automation/internal/cli"

func main() {
	cli.Execute()
}
