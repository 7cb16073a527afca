package bloom

import "errors"

var errCorruptFilter = errors.New("bloom: corrupt filter encoding")
