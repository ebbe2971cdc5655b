package main

import "github.com/fabfab/kb-agent/cli"

func main() {
	cli.Execute()
}
