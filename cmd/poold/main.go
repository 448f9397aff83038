package main

import (
	"log"

	"omnipool/services/poold"
)

func main() {
	if err := poold.Main(); err != nil {
		log.Fatalf("poold: %v", err)
	}
}
