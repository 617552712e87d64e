package main

import "github.com/audiolibrelab/audiosession/cmd"

func main() {
	cmd.Execute()
}
