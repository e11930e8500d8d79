package main

import (
	"github.com/acdh-oeaw/aufbau/cmd/aufbau/cmd"
)

func main() {
	cmd.Execute()
}
