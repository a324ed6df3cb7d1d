package main

import "keeprates/internal/cli"

func main() {
	cli.Execute()
}
