package main

import (
	"vitals/cmd"
)

func main() {
	cmd.Execute()
}
