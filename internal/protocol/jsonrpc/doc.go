// Package jsonrpc binds the mux endpoints to newline-delimited JSON-RPC
// style messages.
//
// A frame is one JSON object. Objects with a numeric "id" are two-way; an
// object carrying "error" is an error response. Everything else is a
// notification routed by its "method".
//
// Wire forms:
//
//	request       {"id":1,"method":"fibonacci.subscribe","params":[10]}
//	response      {"id":1,"result":[10]}
//	error         {"id":1,"error":{"code":-32601,"message":"method not found"}}
//	notification  {"method":"fibonacci.value","params":[55]}
//
// Every encoded message is wrapped in line feeds before it is written.
package jsonrpc
