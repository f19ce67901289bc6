package main

import "servercheck/cmd"

func main() {
	cmd.Execute()
}
