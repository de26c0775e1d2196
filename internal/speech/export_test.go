package speech

// EspeakArgs exposes the argument mapping to the external tests.
var EspeakArgs = espeakArgs
