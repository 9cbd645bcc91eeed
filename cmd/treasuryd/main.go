package main

import (
	"log"

	"revledger/services/treasuryd"
)

func main() {
	if err := treasuryd.Main(); err != nil {
		log.Fatalf("treasuryd: %v", err)
	}
}
