// Package resilience implements a three-state circuit breaker.
//
// The host talks to one remote service, the snippet catalog, over
// mobile networks that fail often and slowly. The breaker fails fast
// while the catalog is unreachable instead of stacking up retries:
// closed passes requests through, open rejects them immediately, and
// half-open probes with a bounded number of requests before closing
// again.
//
//	breaker := resilience.New("catalog", resilience.Settings{
//		Timeout: 30 * time.Second,
//	})
//	result, err := breaker.Execute(func() (interface{}, error) {
//		return client.Call()
//	})
package resilience
