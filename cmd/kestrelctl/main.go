package main

import (
	"os"

	"github.com/kestrelsec/kestrel-correlate/internal/ctl"
)

func main() {
	if err := ctl.Execute(); err != nil {
		os.Exit(1)
	}
}
