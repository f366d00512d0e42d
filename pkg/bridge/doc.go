// Package bridge connects the envelope codec to a transport.
//
// An Encloser wraps producer payloads in envelope frames and publishes them. An
// Uncoverer is a transport.Handler that decodes received frames and hands the result
// to a Sink. Neither depends on a particular broker.
package bridge
