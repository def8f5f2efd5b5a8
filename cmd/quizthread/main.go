// Command quizthread runs the quiz comment engine.
package main

import (
	"context"
	"os"

	"quizthread/cmd/quizthread/commands"
)

func main() {
	if err := commands.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
