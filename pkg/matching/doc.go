// Package matching pairs case subjects with demographically comparable controls.
//
// Tables are Arrow records. Controls are copied once into a struct-of-arrays
// ControlIndex sorted by birth day, so the candidates for a case are found with two
// binary searches instead of a scan. Cases are partitioned into fixed-width birth-day
// buckets whose candidate lists are ranked concurrently. Claims are then settled one
// bucket at a time in birth-day order, so the assignment equals matching every case
// in turn and does not change with the bucketing or the worker count.
//
// A control claimed by one case is unavailable to every later case unless the
// criteria allow replacement. Claims go through a UsedTracker holding one flag per
// indexed control.
package matching
