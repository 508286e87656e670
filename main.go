package main

import "github.com/evogatehq/evogate/cmd"

func main() {
	cmd.Execute()
}
