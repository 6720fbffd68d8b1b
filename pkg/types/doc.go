/*
Package types defines the core data structures shared by every component of
the Synnefo core: the Node Tree, Permission Index, Policy Store, Quotaholder
and Storage Façade.

These types are the wire-transparent shapes moved between packages and, at
the edges, serialized to JSON by the HTTP APIs in pkg/facade/httpapi.go and
pkg/quota/api.go. They carry no storage-engine concerns (bbolt, raft) of
their own — those live in the packages that persist them.
*/
package types
