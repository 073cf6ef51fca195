package main

import (
	"log"
	"mediavault/cmd/mvault/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatal(err)
	}
}
