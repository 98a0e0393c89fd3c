package main

import "github.com/pfrederiksen/raceradar/internal/cli"

func main() {
	cli.Execute()
}
