// See health.go for the Reporter/Checker shapes and http.go/tcp.go for the
// two generic checker implementations: HTTP (status-range probe of a URL) and
// TCP (connect probe of an address). Neither daemon registers them;
// cmd/quotaholderd and cmd/pithosd register their own raft_leader and
// node_tree checkers.
package health
