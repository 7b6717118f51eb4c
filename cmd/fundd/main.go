package main

import (
	"log"

	"invfund/services/fundd"
)

func main() {
	if err := fundd.Main(); err != nil {
		log.Fatalf("fundd: %v", err)
	}
}
