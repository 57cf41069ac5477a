package main

import "balance-tracker/internal/cli"

func main() {
	cli.Execute()
}
