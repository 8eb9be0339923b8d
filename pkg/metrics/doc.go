/*
Package metrics defines and registers the engine's Prometheus metrics:
fold duration and outcome, cache hit/miss/partial rates, handler compile
time, internal-write recursion depth, and gateway/apiserver request latency.
All metrics are registered at package init against the default Prometheus
registry and exposed via Handler for scraping.
*/
package metrics
