package main

import (
	"os"

	"github.com/AaronLay10/carla-go/cmd/carla-go/commands"
)

func main() {
	if err := commands.NewRootCmd(os.LookupEnv).Execute(); err != nil {
		os.Exit(1)
	}
}
