package audio

// CheckPCMSize exposes the payload size limit to the external tests.
var CheckPCMSize = checkPCMSize
