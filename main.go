package main

import "github.com/labelbot/labelbot/cmd"

func main() {
	cmd.Execute()
}
