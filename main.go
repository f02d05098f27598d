package main

import "github.com/IsaacGridGainsDev/torrentlite/cmd"

func main() {
	cmd.Execute()
}
