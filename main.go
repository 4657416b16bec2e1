package main

import "github.com/chadmayfield/rainfalld/cmd"

func main() {
	cmd.Execute()
}
