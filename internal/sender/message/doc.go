/*
Package message holds the data the sending core passes around: exchanges,
the per-request context and the capabilities a caller plugs in.

# Exchange

An Exchange is one request with the response it received. Dispatching
mutates it in place: the response, timings and the from-target flag are set
by the transport, and redirect hops are performed on clones whose response
is copied back.

# RequestContext

A RequestContext is created for every logical send and is owned by that send.
It carries the initiator, the owning Sender handle, retry and redirect limits,
cookie flags and the optional bound User.

# Capabilities

User, CookieHolder, CredentialHolder and Sender are implemented outside this
package. The sending core discovers the optional ones by type assertion.
*/
package message
