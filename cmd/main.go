package main

import (
	"os"

	"github.com/siemachinol/naruto-quiz-bot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
