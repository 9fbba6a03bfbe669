package main

import "github.com/nhirsama/rmcs-client/internal/cli"

func main() {
	cli.Execute()
}
