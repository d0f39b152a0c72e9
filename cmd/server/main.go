package main

import "logitrack/cmd/cli"

func main() {
	cli.Execute()
}
