package main

import "github.com/chatrelay/convoengine/cmd"

func main() {
	cmd.Execute()
}
