package main

import (
	"os"

	"horse.fit/storymerge/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
