package main

import "github.com/adhocrl/adhocrl/cmd"

func main() {
	cmd.Execute()
}
