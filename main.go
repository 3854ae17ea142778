package main

import (
	"cgm-trend-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
