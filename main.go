package main

import (
	"os"

	"github.com/Azunyan1111/go-webrtc-viewer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
