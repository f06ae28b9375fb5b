package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/project-rman/rman/internal/resume"
)

func main() {
	path := flag.String("index", "resume.idx", "Path to the resume index DB")
	logPath := flag.String("log", "", "Resume log to rebuild the index from before collecting")
	maxAge := flag.Duration("max-age", 24*time.Hour, "Max age for index entries")
	flag.Parse()

	idx, err := resume.OpenIndex(*path)
	if err != nil {
		panic(err)
	}
	defer idx.Close()

	if *logPath != "" {
		if err := resume.Rebuild(idx, *logPath); err != nil {
			panic(err)
		}
		fmt.Printf("index rebuilt from %s\n", *logPath)
	}

	removed, err := idx.GC(*maxAge)
	if err != nil {
		panic(err)
	}
	fmt.Printf("GC removed %d entries older than %s\n", removed, maxAge.String())
}
