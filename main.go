package main

import "github.com/nextlevelbuilder/aeon/cmd"

func main() {
	cmd.Execute()
}
