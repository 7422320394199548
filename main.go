package main

import (
	"github.com/drgolem/audiorender/cmd"
)

func main() {
	cmd.Execute()
}
