package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sejmbot/detektor/internal/cli"
	"github.com/sejmbot/detektor/internal/model"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, model.ErrConfiguration), errors.Is(err, model.ErrProviderAuth):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}
