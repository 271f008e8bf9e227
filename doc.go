/*
Package paddock is a MapReduce framework for ordered key-value tables, built
to run on transient, time-limited executors such as AWS Lambda.

The key space is split into shards. Every shard is processed by a series of
short invocations, each handling at most a fixed number of items and
stopping early when its deadline approaches. An invocation that stops early
returns a continuation, and the driver re-dispatches the shard from there
until it is exhausted. Invocations hold no state between calls, so a failed
one is simply retried from the same descriptor.

Map output is appended to a shuffle table as a bag of values per
intermediate key. Once every Map shard is exhausted, the Reduce phase scans
the shuffle table in key order and hands each key's complete bag to the
Reducer.

Tables can live in memory, in a local bolt database file or in S3. Shard tasks run
in-process, behind an HTTP endpoint, or in a deployed Lambda function.
*/
package paddock
