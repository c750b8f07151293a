// Package mocap owns the motion-capture data model shared by the decoder,
// the filter stage, the frame cache and every consumer.
//
// A Frame is one snapshot of all tracked rigid bodies (Objects) at a
// feed-reported frame number. Each Object carries a row-major 3x3 rotation,
// a position and its child Markers. Entities that could not be resolved in a
// frame are occluded, and occluded entities always carry NaN numeric fields,
// never a stale value.
//
// Lookups by name never fail: a missing Object or Marker is returned as an
// occluded placeholder so callers can always read its fields.
package mocap
