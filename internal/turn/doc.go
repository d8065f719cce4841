// Package turn models conversation turns and folds chat stream events into them.
//
// ParseEvent classifies a decoded frame by its "type" field. An Accumulator
// applies events to a single assistant turn: answer text is appended to the
// content, everything else becomes an ordered Step. A conversation id seen in
// the first meta event is held in a Deferred and only applied by the caller
// once the turn has committed.
package turn
