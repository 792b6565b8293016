// Package main hosts the harvester entrypoint.
//
// Architecture overview:
//   - Work intake: item keys are read from a line-oriented file, templated
//     into listing URLs, and enqueued into the unique-key FIFO task queue.
//     Each key is dispatched exactly once at a time with a bounded number of
//     attempts.
//   - Proxy fleet: internal/proxy hands exclusive proxy endpoints to workers
//     round-robin, records blocks in an append-only log, and signals
//     availability so workers can park instead of spinning when everything
//     is blocked.
//   - Workers: each worker drives one chromedp browser session through its
//     proxy, classifies the resulting page (card, removed, captcha, blocked,
//     wrong page), and applies the retry/rotation policy before upserting
//     the extracted record into Postgres.
//   - Supervision: the supervisor replaces faulted workers under the same
//     identity until the queue drains; SIGINT/SIGTERM cancels the run and
//     workers shut their sessions down cleanly.
//   - Plumbing: Viper config, zap logging, Prometheus metrics with a chi ops
//     server, optional Pub/Sub outcome events and GCS/local archiving of
//     unparseable pages.
package main

import "github.com/avitolab/listings-crawler/cmd"

func main() {
	cmd.Execute()
}
