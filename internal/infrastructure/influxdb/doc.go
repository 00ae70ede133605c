// Package influxdb writes Gray Logic Comm metrics to InfluxDB v2.
//
// Points are batched by the client library and flushed every
// flush_interval seconds or batch_size points. The measurements are:
//
//	comm_operation        one point per finished operation (duration, outcome)
//	comm_fault            one point per classified fault
//	comm_live_operations  live operation gauge
//	comm_link             periodic link snapshot
//
// InfluxDB is optional: Connect returns ErrDisabled when the section is
// disabled, and the service runs without time-series output.
package influxdb
