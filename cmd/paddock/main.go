// Command paddock drives a job binary that serves its coordinator over HTTP
// (started with --serve).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/bcongdon/paddock"
)

func main() {
	flags := pflag.NewFlagSet("paddock", pflag.ExitOnError)
	endpoint := flags.StringP("endpoint", "b", "", "URL of the coordinator to drive (required)")
	maxInFlight := flags.IntP("max-in-flight", "i", 0, "Maximum simultaneous invocations (0 is unlimited)")
	maxAttempts := flags.IntP("max-attempts", "f", 0, "Maximum attempts per invocation (0 is unlimited)")
	backoff := flags.Duration("retry-backoff", 2*time.Second, "Backoff added per failed attempt")
	maxBackoff := flags.Duration("max-retry-backoff", 60*time.Second, "Upper bound on the retry backoff")
	verbose := flags.BoolP("verbose", "v", false, "Output verbose logs")
	flags.Parse(os.Args[1:])

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	driver, err := paddock.NewRemoteDriver(*endpoint,
		paddock.WithMaxInFlight(*maxInFlight),
		paddock.WithMaxAttempts(*maxAttempts),
		paddock.WithRetryBackoff(*backoff, *maxBackoff),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flags.Usage()
		os.Exit(1)
	}

	start := time.Now()
	if err := driver.Run(context.Background()); err != nil {
		log.Error(err)
		os.Exit(1)
	}
	fmt.Printf("Job Execution Time: %s\n", time.Since(start))
}
