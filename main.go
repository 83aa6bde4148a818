package main

import "github.com/killallgit/strand/cmd"

func main() {
	cmd.Execute()
}
