package main

import "github.com/airtap/airtap/cmd"

func main() {
	cmd.Execute()
}
