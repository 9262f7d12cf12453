package main

import "github.com/nextlevelbuilder/sessiond/cmd"

func main() {
	cmd.Execute()
}
