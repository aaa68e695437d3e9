// Package errors defines the error vocabulary shared by mantle
// components: sentinel values for well-known conditions and a
// three-class scheme that lets callers decide between retrying,
// rejecting the input, and shutting down without matching on error
// text.
//
// # Classification
//
// Every error resolves to one of three classes. Transient failures may
// clear on retry (broker, database, or cache unreachable, network
// timeouts). Invalid failures are caused by the input itself and can
// never succeed on retry (malformed Sparkplug payloads and topics, bad
// mutation arguments, unknown alarm rules). Fatal failures should stop
// the component (bad configuration, failed migrations).
//
// # Wrapping
//
// All wrapping follows one format:
//
//	"component.op: action failed: <cause>"
//
// WrapTransient, WrapInvalid, and WrapFatal attach a class while
// wrapping; the plain Wrap adds context without one, preserving any
// class already in the chain. Wrapped errors support errors.Is and
// errors.As throughout.
//
//	return errors.WrapTransient(err, "storage", "Ping", "database ping")
//
// IsTransient, IsInvalid, and IsFatal answer from the nearest
// ClassifiedError in the chain, falling back to a fixed sentinel table
// for errors that never passed through a Wrap helper. Bare sentinels
// like ErrRuleNotFound therefore classify correctly on their own.
//
// All functions are pure and all sentinels immutable, so the package is
// safe for concurrent use.
package errors
