package main

import "deployaudit/cmd"

func main() {
	cmd.Execute()
}
