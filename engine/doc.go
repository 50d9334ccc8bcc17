// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package engine implements the command protocol engine that lets firmware
issue typed calls to a simulator peer over a single byte-stream transport,
together with the event channel that long-polls the same transport for
asynchronous events.

# Calls

[*Engine.Call] writes one request frame and reads the matching response
frame. Callers may be many goroutines: a write lock serializes request
frames and a read lock serializes response frames. Every conversation
takes the write lock, then the read lock, and releases them in the
opposite order, so no two requests and no two responses interleave.

# Event Channel

[*Engine.Serve] runs the event channel: it sends a long poll, which parks
on the peer until something happens, and when the answer says that an
event is pending it retrieves the event and dispatches it to the
[Handler] registered for its identifier with [*Engine.Register].

The long poll releases the write lock as soon as its request is on the
wire, so ordinary callers can send requests while the long poll waits.
It acquires the read lock while still holding the write lock. Because
every conversation does the same, at most one goroutine at a time waits
for the read lock, and responses are read in the order requests were
written without depending on the fairness of [sync.Mutex].

# Fatal Errors

The transport carries no resynchronization marker. A short read or
write, a response larger than the caller's buffer, a long poll answer
with a payload, or a failed event retrieval mean the two sides disagree
about frame boundaries. The engine logs these conditions and panics with
an error wrapping [ErrDesync]. There is no recovery: the process is
expected to terminate.

# Shutdown

Serve checks its context once per iteration. Cancel the context and then
close the transport to stop it: a transport failure observed after the
context is done ends Serve with the context error instead of panicking.
The engine is not usable once its transport has been closed.
*/
package engine
