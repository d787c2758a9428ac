/*
Package sampler turns the raw fix stream into location samples worth keeping.

Accept applies, in order:

  - Throttle: a fix received less than MinInterval (25s) after the last
    accepted fix is dropped. Receipt time comes from the sampler's clock,
    not the fix timestamp.
  - Validity and accuracy: out-of-range coordinates, and fixes with an
    accuracy radius above MaxAccuracyMeters (50m), are dropped. Exactly
    50m is accepted.
  - Plausibility: the implied speed from the previous accepted sample is
    computed from the fix timestamps. Above MaxSpeedMPS (50 m/s) the fix is
    still accepted but its DistanceDeltaMeters is forced to 0.

The cursor (last accepted sample) moves only on acceptance. Accept holds no
I/O and is safe to call from the fix stream goroutine.
*/
package sampler
