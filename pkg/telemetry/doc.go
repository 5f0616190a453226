// Package telemetry wires zerolog, OpenTelemetry, Prometheus and a small
// in-process event bus into the lifecycle engine and repository handles.
//
// A Telemetry is built once per process and attached to the context:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// Code below the command layer never holds a Telemetry. It asks the context
// instead (MetricsFromContext, EventsFromContext, FromContext), and every
// recorder tolerates the nil it gets back when telemetry is absent.
//
// Lifecycle operations are bracketed by WithOperationContext and
// EndOperationContext, which open the lifecycle.<operation> span, count the
// operation and publish its start and end events. Repository handles wrap
// each call in RecordRepositoryOperation.
//
// Series, all under the configured namespace:
//
//   - operations_started_total{operation}
//   - operations_completed_total{operation,status}
//   - operation_duration_seconds{operation,status}
//   - repository_calls_total{repository,operation}
//   - repository_call_duration_seconds{repository,operation}
//   - repository_errors_total{repository,operation,kind}
//   - resolver_visits_total{outcome}
//   - resolver_cache_hits_total
//   - artifacts_committed_total{operation,status}
//   - policy_warnings_total{field}
//   - federated_ambiguous_total
//   - diff_cache_lookups_total{result}
//   - errors_by_kind_total{kind}
//   - active_operations
package telemetry
