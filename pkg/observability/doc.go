/*
Package observability turns conversation lifecycle hooks into Prometheus
metrics and structured log lines.

Both helpers return a domain.LifecycleHooks value; Combine fans one event out
to several of them:

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	hooks := observability.Combine(metrics.Hooks(), observability.LogHooks(logger))
	assistant, err := orderdesk.New(engine, catalog, orderdesk.WithLifecycleHooks(hooks))
*/
package observability
