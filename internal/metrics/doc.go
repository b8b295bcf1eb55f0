// Package metrics provides observability hooks for sitemap generation.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics collection never requires nil checks at call
// sites. The daemon swaps in PrometheusRecorder when a metrics registry is
// configured; everything else keeps calling the same interface.
package metrics
