package main

import (
	"github.com/Foodstream-io/livecall/cmd"
	"github.com/Foodstream-io/livecall/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
