package materials

// Cascade exposes the internal cascade path for tests.
var Cascade = (*Store).cascade
