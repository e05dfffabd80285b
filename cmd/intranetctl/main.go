package main

import "intranet-assistant-go/internal/cli"

func main() {
	cli.Execute()
}
