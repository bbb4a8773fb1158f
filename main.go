package main

import "github.com/nextlevelbuilder/memkit/cmd"

func main() {
	cmd.Execute()
}
