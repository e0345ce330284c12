package main

import "github.com/Ruscigno/vprism/cmd"

func main() {
	cmd.Execute()
}
