package main

import "github.com/kozaktomas/khoj/cmd"

func main() {
	cmd.Execute()
}
