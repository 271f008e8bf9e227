package paddock

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	humanize "github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/semaphore"
	pb "gopkg.in/cheggaaa/pb.v1"
)

// Driver controls the execution of a MapReduce Job
type Driver struct {
	config      *config
	coordinator *Coordinator // nil when driving a remote coordinator
	executor    executor
	retry       retryPolicy
	sleep       func(context.Context, time.Duration) error
	progress    bool
	stats       map[Phase]*taskStats
}

// NewDriver creates a new Driver with the provided job and optional
// configuration. Shard tasks run in-process until Main selects another
// transport.
func NewDriver(job *Job, options ...Option) (*Driver, error) {
	c := newConfig()
	for _, f := range options {
		f(c)
	}

	co, err := newCoordinator(job, c)
	if err != nil {
		return nil, err
	}

	d := newDriver(c, localExecutor{coordinator: co})
	d.coordinator = co
	log.Debugf("Loaded config: %#v", c)
	return d, nil
}

// NewRemoteDriver creates a Driver for a coordinator served over HTTP at
// endpoint.
func NewRemoteDriver(endpoint string, options ...Option) (*Driver, error) {
	c := newConfig()
	c.Endpoint = endpoint
	for _, f := range options {
		f(c)
	}
	if c.Endpoint == "" {
		return nil, &ConfigurationError{Field: "endpoint", Reason: "required"}
	}
	return newDriver(c, newHTTPExecutor(c.Endpoint)), nil
}

func newDriver(c *config, e executor) *Driver {
	return &Driver{
		config:   c,
		executor: e,
		retry: retryPolicy{
			maxAttempts: c.MaxAttempts,
			step:        c.RetryBackoff,
			max:         c.MaxRetryBackoff,
		},
		sleep:    sleepContext,
		progress: true,
		stats:    map[Phase]*taskStats{MapPhase: {}, ReducePhase: {}},
	}
}

// shardOutcome is reported by a dispatch goroutine to the phase loop.
type shardOutcome struct {
	shard  ShardDescriptor
	result taskResult
	err    error
}

// listShards asks the coordinator for the shards of phase.
func (d *Driver) listShards(ctx context.Context, phase Phase) ([]ShardDescriptor, error) {
	kind, err := masterTaskKind(phase)
	if err != nil {
		return nil, err
	}
	result, err := d.dispatchWithRetry(ctx, task{Kind: kind, Shard: ShardDescriptor{Phase: phase}})
	if err != nil {
		return nil, err
	}
	return result.Shards, nil
}

// runPhase drives every shard of phase to exhaustion. A single loop owns
// the queue and the in-flight count; dispatch goroutines only report back
// over the results channel.
func (d *Driver) runPhase(ctx context.Context, phase Phase) error {
	shards, err := d.listShards(ctx, phase)
	if err != nil {
		return err
	}
	log.Debugf("Number of %s shards: %d", phase, len(shards))

	kind, err := shardTaskKind(phase)
	if err != nil {
		return err
	}

	bar := pb.New(len(shards)).Prefix(phase.String())
	if d.progress {
		bar.Start()
		defer bar.Finish()
	}

	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sem *semaphore.Weighted
	if d.config.MaxInFlight > 0 {
		sem = semaphore.NewWeighted(int64(d.config.MaxInFlight))
	}

	queue := newWorkQueue(shards)
	results := make(chan shardOutcome)
	inFlight := 0
	stats := d.stats[phase]

	for {
		for queue.Len() > 0 {
			if sem != nil && !sem.TryAcquire(1) {
				break
			}
			shard := queue.pop()
			inFlight++
			go func(s ShardDescriptor) {
				result, err := d.dispatchWithRetry(phaseCtx, task{Kind: kind, Shard: s})
				select {
				case results <- shardOutcome{shard: s, result: result, err: err}:
				case <-phaseCtx.Done():
				}
			}(shard)
		}

		if inFlight == 0 {
			break
		}

		var outcome shardOutcome
		select {
		case outcome = <-results:
		case <-ctx.Done():
			return ctx.Err()
		}
		inFlight--
		if sem != nil {
			sem.Release(1)
		}

		if outcome.err != nil {
			log.Errorf("%s phase halted: %s", phase, outcome.err)
			return outcome.err
		}

		stats.add(outcome.result.Stats)
		if next := outcome.result.Next; next != nil {
			queue.pushContinuation(next.ShardDescriptor)
		} else {
			bar.Increment()
		}
	}

	log.Infof("%s phase complete: %s items processed, %s pairs emitted, %s written",
		phase,
		humanize.Comma(int64(stats.ItemsProcessed)),
		humanize.Comma(int64(stats.PairsEmitted)),
		humanize.Bytes(uint64(stats.BytesWritten)))
	return nil
}

// Run executes the Map phase and then, once every Map shard is exhausted,
// the Reduce phase. The first unrecoverable error halts the run.
func (d *Driver) Run(ctx context.Context) error {
	for _, phase := range []Phase{MapPhase, ReducePhase} {
		if err := d.runPhase(ctx, phase); err != nil {
			return err
		}
	}
	return nil
}

var (
	lambdaFlag   = pflag.Bool("lambda", false, "Deploy to and dispatch shard tasks through AWS Lambda")
	undeployFlag = pflag.Bool("undeploy", false, "Delete the Lambda function (and managed role), then exit")
	serveFlag    = pflag.String("serve", "", "Serve task invocations over HTTP on the given address")
)

func init() {
	pflag.StringP("endpoint", "b", "", "Drive the coordinator served at this URL")
	pflag.IntP("max-in-flight", "i", 0, "Maximum simultaneous invocations (0 is unlimited)")
	pflag.IntP("max-attempts", "f", 0, "Maximum attempts per invocation (0 is unlimited)")
	pflag.BoolP("verbose", "v", false, "Output verbose logs")

	viper.BindPFlag("endpoint", pflag.Lookup("endpoint"))
	viper.BindPFlag("max_in_flight", pflag.Lookup("max-in-flight"))
	viper.BindPFlag("max_attempts", pflag.Lookup("max-attempts"))
	viper.BindPFlag("verbose", pflag.Lookup("verbose"))
}

// applyFlags overrides config with flags given on the command line, leaving
// Option values in place otherwise.
func (d *Driver) applyFlags() {
	flags := pflag.CommandLine
	if flags.Changed("endpoint") {
		d.config.Endpoint = viper.GetString("endpoint")
	}
	if flags.Changed("max-in-flight") {
		d.config.MaxInFlight = viper.GetInt("max_in_flight")
	}
	if flags.Changed("max-attempts") {
		d.config.MaxAttempts = viper.GetInt("max_attempts")
		d.retry.maxAttempts = d.config.MaxAttempts
	}
	if flags.Changed("verbose") {
		d.config.Verbose = viper.GetBool("verbose")
	}
}

// Main is the entry point of a job binary. Inside AWS Lambda it serves the
// coordinator; otherwise flags select between serving over HTTP, driving a
// remote coordinator, driving a Lambda deployment, or running locally.
func (d *Driver) Main() {
	pflag.Parse()
	d.applyFlags()

	if d.config.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	if d.coordinator != nil && runningInLambda() {
		lambda.Start(d.coordinator.handleLambdaRequest)
		return
	}

	if *undeployFlag {
		if err := undeployLambda(d.config); err != nil {
			log.Error(err)
			os.Exit(1)
		}
		return
	}

	if *serveFlag != "" {
		if d.coordinator == nil {
			log.Fatal("No job to serve")
		}
		log.Infof("Serving tasks on %s", *serveFlag)
		log.Fatal(http.ListenAndServe(*serveFlag, d.coordinator))
	}

	switch {
	case *lambdaFlag:
		if err := deployLambda(d.config); err != nil {
			log.Errorf("Could not deploy Lambda function: %s", err)
			os.Exit(1)
		}
		d.executor = newLambdaExecutor(d.config.FunctionName)
	case d.config.Endpoint != "":
		d.executor = newHTTPExecutor(d.config.Endpoint)
	}

	start := time.Now()
	err := d.Run(context.Background())
	fmt.Printf("Job Execution Time: %s\n", time.Since(start))
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
